// Package snowflake hands out process-unique int64 IDs, used for cursor
// identifiers so concurrent cursors stay distinguishable in logs.
package snowflake

import (
	"crypto/rand"
	"hash/fnv"
	"math/big"
	"os"

	"github.com/bwmarrin/snowflake"
)

var snowflakeNode *snowflake.Node

func init() {
	var err error
	snowflakeNode, err = snowflake.NewNode(getNodeNumber())
	if err != nil {
		panic("init snowflake error " + err.Error())
	}
}

// ID new simple snowflake id.
func ID() int64 {
	return int64(snowflakeNode.Generate())
}

// getNodeNumber derives the node ID from the hostname, falling back to a
// random number when no hostname is available.
func getNodeNumber() int64 {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		randNumber, randErr := rand.Int(rand.Reader, big.NewInt(1023))
		if randErr != nil {
			return 0
		}
		return randNumber.Int64()
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(hostname))
	return int64(h.Sum32() % 1023)
}
