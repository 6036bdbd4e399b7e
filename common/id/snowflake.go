// Package id issues the snowflake identifiers used for provider event and
// delivery event rows. Server and worker processes initialize with distinct
// node IDs so ids stay unique across binaries.
package id

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node *snowflake.Node
	once sync.Once
)

// Init sets up the generator for this process. Only the first call takes
// effect; later calls are no-ops so tests can init freely.
func Init(nodeID int64) error {
	var err error
	once.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// New returns a time-ordered int64 id unique across all nodes.
func New() int64 {
	return node.Generate().Int64()
}
