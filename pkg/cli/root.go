package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dwp-platform/guard/pkg/contextkeys"
	"github.com/dwp-platform/guard/pkg/observability"
	"github.com/dwp-platform/guard/pkg/rbac"
	"github.com/dwp-platform/guard/pkg/scope"
)

// Engine is the slice of engine.Engine the commands drive
type Engine interface {
	Migrate(ctx context.Context) error
	Health(ctx context.Context) observability.HealthStatus
	CheckPermission(ctx context.Context, tenantID, userID int64, resourceKey string, code rbac.PermissionCode) (rbac.Decision, error)
	ResolveMenuTree(ctx context.Context, tenantID, userID int64) (*rbac.MenuForest, error)
	ApplyRolePermissionBatch(ctx context.Context, tenantID, roleID int64, items []rbac.BatchItem) (*rbac.Diff, error)
	ResolveEnabledScope(ctx context.Context, tenantID int64) (*scope.Scope, error)
	SetCompanyCodes(ctx context.Context, tenantID int64, codes []string) (*scope.ReplaceResult, error)
	SetCurrencies(ctx context.Context, tenantID int64, codes []string) (*scope.ReplaceResult, error)
	Close() error
}

// Runtime is what every command shares
type Runtime struct {
	// Open connects the engine; it is called once per command
	Open   func(ctx context.Context) (Engine, error)
	Out    io.Writer
	Logger *logrus.Logger
}

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Out         io.Writer
}

// NewRootCommand creates the guardctl root command
func NewRootCommand(rt *Runtime) *Command {
	if rt.Out == nil {
		rt.Out = os.Stdout
	}
	if rt.Logger == nil {
		rt.Logger = logrus.New()
	}

	root := &Command{
		Name:        "guardctl",
		Description: "guardctl - authorization and data-scope administration",
		Subcommands: make(map[string]*Command),
		Out:         rt.Out,
	}

	root.Subcommands["migrate"] = newMigrateCommand(rt)
	root.Subcommands["health"] = newHealthCommand(rt)
	root.Subcommands["check"] = newCheckCommand(rt)
	root.Subcommands["menu"] = newMenuCommand(rt)
	root.Subcommands["grant"] = newGrantCommand(rt)
	root.Subcommands["scope"] = newScopeCommand(rt)

	return root
}

// Execute runs the subcommand named by args[0]
func (c *Command) Execute(args []string) error {
	if len(args) == 0 {
		return c.usage()
	}

	if strings.EqualFold(args[0], "-h") || strings.EqualFold(args[0], "--help") {
		return c.usage()
	}

	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage() error {
	fmt.Fprintf(c.Out, "Usage: %s <command> [args]\n\n", c.Name)
	fmt.Fprintf(c.Out, "Commands:\n")
	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(c.Out, "  %-15s %s\n", name, c.Subcommands[name].Description)
	}
	return nil
}

// withEngine opens the engine, runs fn under a fresh request ID and closes the engine
func (rt *Runtime) withEngine(command string, fn func(ctx context.Context, e Engine) error) error {
	requestID := uuid.NewString()
	ctx := contextkeys.WithRequestID(context.Background(), requestID)
	log := rt.Logger.WithFields(logrus.Fields{
		"command":    command,
		"request_id": requestID,
	})

	e, err := rt.Open(ctx)
	if err != nil {
		log.WithError(err).Error("failed to open engine")
		return err
	}
	defer func() {
		if err := e.Close(); err != nil {
			log.WithError(err).Warn("failed to close engine")
		}
	}()

	if err := fn(ctx, e); err != nil {
		log.WithError(err).Error("command failed")
		return err
	}
	log.Debug("command completed")
	return nil
}

func (rt *Runtime) print(v interface{}) error {
	enc := json.NewEncoder(rt.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// splitCodes parses a comma separated list; an empty string is an empty list
func splitCodes(s string) []string {
	codes := []string{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			codes = append(codes, part)
		}
	}
	return codes
}

func requireFlags(flags *flag.FlagSet, names ...string) error {
	set := make(map[string]bool)
	flags.Visit(func(f *flag.Flag) { set[f.Name] = true })
	var missing []string
	for _, name := range names {
		if !set[name] {
			missing = append(missing, "-"+name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required flags: %s", strings.Join(missing, ", "))
	}
	return nil
}
