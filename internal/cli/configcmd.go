package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/kitchensync/internal/config"
)

type configView struct {
	Valid  bool          `json:"valid"`
	Config config.Config `json:"config"`
}

func (v configView) RenderText(w io.Writer) {
	c := v.Config
	fmt.Fprintln(w, "Config OK")
	fmt.Fprintf(w, "  session:     %s\n", c.Session)
	fmt.Fprintf(w, "  persistence: %s (max age %s)\n", c.Persistence.Driver, c.Persistence.MaxAge)
	fmt.Fprintf(w, "  backend:     %s\n", c.Backend.URL)
	fmt.Fprintf(w, "  sync:        every %s, %d retries\n", c.Sync.Interval, c.Sync.MaxRetries)
}

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration tools",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		Long: `Load the configuration (defaults, .env, config file, KITCHENSYNC_*
environment) and validate it against the schema.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(rootOpts.ConfigPath)
			if err != nil {
				out := formatter(cmd, rootOpts)
				if ferr := out.Error("CONFIG_INVALID", err.Error(), nil); ferr != nil {
					return ferr
				}
				return WrapExitError(ExitFailure, "invalid config", err)
			}
			return formatter(cmd, rootOpts).Success(configView{Valid: true, Config: cfg})
		},
	})
	return cmd
}
