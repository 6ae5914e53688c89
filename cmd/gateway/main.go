package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/platform-gateway/cmd/gateway/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Debug     bool `help:"Enable debug mode."`
		Version   kong.VersionFlag
		Serve     commands.ServeCmd     `cmd:"" help:"Start the API gateway"`
		Catalog   commands.CatalogCmd   `cmd:"" help:"Print the route table"`
		Bootstrap commands.BootstrapCmd `cmd:"" help:"Create the command queues on LocalStack"`
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
