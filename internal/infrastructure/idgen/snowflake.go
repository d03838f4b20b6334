package idgen

import (
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/garyjia/trip-approval/internal/application/port"
)

// SnowflakeGenerator issues time-ordered decimal ids
type SnowflakeGenerator struct {
	node *snowflake.Node
}

// NewSnowflakeGenerator creates a generator for the given node number (0-1023)
func NewSnowflakeGenerator(nodeID int64) (*SnowflakeGenerator, error) {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to create snowflake node %d: %w", nodeID, err)
	}
	return &SnowflakeGenerator{node: node}, nil
}

// NewID returns the next id as a decimal string
func (g *SnowflakeGenerator) NewID() string {
	return g.node.Generate().String()
}

// Verify interface compliance
var _ port.IDGenerator = (*SnowflakeGenerator)(nil)
