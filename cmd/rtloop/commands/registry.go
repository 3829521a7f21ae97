package commands

import (
	"github.com/rs/zerolog"

	"github.com/rtloop/rtloop/pkg/plugin"
	"github.com/rtloop/rtloop/pkg/plugins/daq"
	"github.com/rtloop/rtloop/pkg/plugins/generator"
	"github.com/rtloop/rtloop/pkg/plugins/perfmon"
	"github.com/rtloop/rtloop/pkg/plugins/recorder"
	"github.com/rtloop/rtloop/pkg/plugins/script"
	"github.com/rtloop/rtloop/pkg/plugins/wasmplug"
)

// buildRegistry assembles the builtin plugin kinds plus any catalog
// kinds from --catalog. The catalog may be empty or absent.
func buildRegistry(logger zerolog.Logger) (*plugin.Registry, *plugin.Catalog, error) {
	reg := plugin.NewRegistry()
	generator.Register(reg)
	perfmon.Register(reg)
	daq.Register(reg)
	recorder.Register(reg)
	script.Register(reg)

	if catalogDir == "" {
		return reg, nil, nil
	}

	cat, err := plugin.OpenCatalog(catalogDir, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := wasmplug.RegisterCatalog(reg, cat, catalogDir); err != nil {
		return nil, nil, err
	}
	return reg, cat, nil
}
