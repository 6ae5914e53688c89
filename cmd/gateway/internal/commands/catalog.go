package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/wolfeidau/platform-gateway/internal/command"
	"gopkg.in/yaml.v3"
)

// CatalogCmd prints the route table so operators can review the exposed
// surface without reading code.
type CatalogCmd struct {
	Internal bool `help:"include commands only sent by the gateway itself" default:"false"`
}

type catalog struct {
	Routes   []command.Route   `yaml:"routes"`
	Handlers []string          `yaml:"handlers"`
	Internal []command.Command `yaml:"internal,omitempty"`
}

func (c *CatalogCmd) Run(globals *Globals) error {
	return c.write(os.Stdout, command.Routes)
}

func (c *CatalogCmd) write(w io.Writer, routes []command.Route) error {
	if err := command.Validate(routes); err != nil {
		return fmt.Errorf("invalid route table: %w", err)
	}

	out := catalog{
		Routes:   routes,
		Handlers: command.Handlers(routes),
	}
	if c.Internal {
		out.Internal = command.Internal
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("failed to encode catalog: %w", err)
	}
	return enc.Close()
}
