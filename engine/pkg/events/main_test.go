package events_test

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"testing"

	gltesting "github.com/malbeclabs/gameledger/utils/pkg/testing"
)

var testRedis *gltesting.Redis

func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}

	var err error
	testRedis, err = gltesting.NewRedis(context.Background(), slog.Default(), nil)
	if err != nil {
		slog.Error("failed to start Redis container", "error", err)
		os.Exit(1)
	}

	code := m.Run()

	testRedis.Close()
	os.Exit(code)
}

func requireRedis(t *testing.T) {
	t.Helper()
	if testRedis == nil {
		t.Skip("redis container not started in short mode")
	}
}
