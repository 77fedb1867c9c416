package config

import (
	"context"
	"testing"
	"time"

	"github.com/ZebulonRouseFrantzich/mansync/internal/platform"
)

const timeoutPerInput = 100 * time.Millisecond

func FuzzParser_ParseString(f *testing.F) {
	f.Add(`mansync = { install_dir = "/x", manifest = { path = "m.json" } }`)
	f.Add(`mansync = { reconcile = { delete = { "a", nil, "b" } } }`)
	f.Add(`mansync = { reconcile = { renames = { { from = 1, to = {} } } } }`)
	f.Add(`mansync = { source = { assets = { [1] = true } } }`)

	parser := NewParser(platform.Static{OS: "linux", Arch: "amd64"}, nil)

	f.Fuzz(func(t *testing.T, luaCode string) {
		ctx, cancel := context.WithTimeout(context.Background(), timeoutPerInput)
		defer cancel()
		_, _ = parser.ParseString(ctx, luaCode)
	})
}
