package e2e

import (
	"fmt"

	"github.com/marmos91/ttableserver/pkg/adapter/lookup"
	"github.com/marmos91/ttableserver/test/e2e/framework"
)

// TestConfig is one server configuration the suite runs against.
type TestConfig struct {
	Name        string
	Direction   lookup.Direction
	Compression framework.Compression
}

func (tc *TestConfig) String() string {
	return fmt.Sprintf("%s-%s%s", tc.Name, tc.Direction, tc.Compression)
}

// AllConfigurations returns every direction and table format combination.
func AllConfigurations() []*TestConfig {
	var configs []*TestConfig
	for _, dir := range []lookup.Direction{lookup.DirectionS2T, lookup.DirectionT2S} {
		for _, c := range []framework.Compression{
			framework.CompressionGzip,
			framework.CompressionZstd,
			framework.CompressionLZ4,
		} {
			configs = append(configs, &TestConfig{Name: "tables", Direction: dir, Compression: c})
		}
	}
	return configs
}
