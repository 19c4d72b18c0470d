package e2e

import (
	"testing"

	"github.com/marmos91/ttableserver/test/e2e/framework"
)

// Tables shared by the suite. Provenance 1 is "news", 2 is "web".
var (
	allTable  = "1 2 0.5\n1 3 NULL\n2 2 0.125\n4\\5\\0.0625\n"
	newsTable = "1 2 0.75\n9 9 1\n"
	webTable  = "1 2 0.25\nbroken line\n"
)

func newServer(t *testing.T, tc *TestConfig) *framework.TestServer {
	t.Helper()

	ts := framework.NewTestServer(t, framework.TestServerConfig{
		Direction:   tc.Direction,
		Compression: tc.Compression,
		Tables: map[string]string{
			"ALL":  allTable,
			"news": newsTable,
			"web":  webTable,
		},
		Genres: []string{"news", "web"},
	})
	if err := ts.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() {
		if err := ts.Stop(); err != nil {
			t.Errorf("Server stop: %v", err)
		}
	})
	return ts
}

// runOnAllConfigs runs testFunc once per configuration, each against its
// own server.
func runOnAllConfigs(t *testing.T, testFunc func(t *testing.T, ts *framework.TestServer)) {
	t.Helper()
	for _, tc := range AllConfigurations() {
		t.Run(tc.String(), func(t *testing.T) {
			testFunc(t, newServer(t, tc))
		})
	}
}
