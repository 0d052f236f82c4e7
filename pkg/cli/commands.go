package cli

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/dwp-platform/guard/pkg/observability"
	"github.com/dwp-platform/guard/pkg/rbac"
)

func newMigrateCommand(rt *Runtime) *Command {
	return &Command{
		Name:        "migrate",
		Description: "Apply authorization and scope schema migrations",
		Run: func(args []string) error {
			flags := flag.NewFlagSet("migrate", flag.ContinueOnError)
			if err := flags.Parse(args); err != nil {
				return err
			}
			return rt.withEngine("migrate", func(ctx context.Context, e Engine) error {
				if err := e.Migrate(ctx); err != nil {
					return err
				}
				rt.Logger.Info("migrations applied")
				return nil
			})
		},
	}
}

func newHealthCommand(rt *Runtime) *Command {
	return &Command{
		Name:        "health",
		Description: "Check database and cache connectivity",
		Run: func(args []string) error {
			flags := flag.NewFlagSet("health", flag.ContinueOnError)
			if err := flags.Parse(args); err != nil {
				return err
			}
			return rt.withEngine("health", func(ctx context.Context, e Engine) error {
				status := e.Health(ctx)
				if err := rt.print(status); err != nil {
					return err
				}
				if status.Status == observability.StatusUnhealthy {
					return fmt.Errorf("engine is unhealthy")
				}
				return nil
			})
		},
	}
}

func newCheckCommand(rt *Runtime) *Command {
	return &Command{
		Name:        "check",
		Description: "Decide whether a user holds a permission on a resource",
		Run: func(args []string) error {
			flags := flag.NewFlagSet("check", flag.ContinueOnError)
			tenant := flags.Int64("tenant", 0, "Tenant ID")
			user := flags.Int64("user", 0, "User ID")
			resource := flags.String("resource", "", "Resource key")
			code := flags.String("code", string(rbac.PermissionView), "Permission code (VIEW, USE, EDIT, APPROVE, EXECUTE)")
			if err := flags.Parse(args); err != nil {
				return err
			}
			if err := requireFlags(flags, "tenant", "user", "resource"); err != nil {
				return err
			}

			return rt.withEngine("check", func(ctx context.Context, e Engine) error {
				decision, err := e.CheckPermission(ctx, *tenant, *user, *resource, rbac.PermissionCode(strings.ToUpper(*code)))
				if err != nil {
					return err
				}
				return rt.print(decision)
			})
		},
	}
}

func newMenuCommand(rt *Runtime) *Command {
	return &Command{
		Name:        "menu",
		Description: "Print the menu tree a user may view",
		Run: func(args []string) error {
			flags := flag.NewFlagSet("menu", flag.ContinueOnError)
			tenant := flags.Int64("tenant", 0, "Tenant ID")
			user := flags.Int64("user", 0, "User ID")
			if err := flags.Parse(args); err != nil {
				return err
			}
			if err := requireFlags(flags, "tenant", "user"); err != nil {
				return err
			}

			return rt.withEngine("menu", func(ctx context.Context, e Engine) error {
				forest, err := e.ResolveMenuTree(ctx, *tenant, *user)
				if err != nil {
					return err
				}
				return rt.print(forest)
			})
		},
	}
}

// parseEffect maps ALLOW, DENY or NONE (removal) onto a batch item effect
func parseEffect(s string) (*rbac.Effect, error) {
	switch e := rbac.Effect(strings.ToUpper(s)); {
	case e.Valid():
		return &e, nil
	case strings.EqualFold(s, "none"):
		return nil, nil
	default:
		return nil, fmt.Errorf("invalid effect %q: want ALLOW, DENY or NONE", s)
	}
}

func newGrantCommand(rt *Runtime) *Command {
	return &Command{
		Name:        "grant",
		Description: "Set or remove one role permission and print the diff",
		Run: func(args []string) error {
			flags := flag.NewFlagSet("grant", flag.ContinueOnError)
			tenant := flags.Int64("tenant", 0, "Tenant ID")
			role := flags.Int64("role", 0, "Role ID")
			resource := flags.String("resource", "", "Resource key")
			code := flags.String("code", string(rbac.PermissionView), "Permission code")
			effectFlag := flags.String("effect", string(rbac.EffectAllow), "ALLOW, DENY or NONE to remove the grant")
			if err := flags.Parse(args); err != nil {
				return err
			}
			if err := requireFlags(flags, "tenant", "role", "resource"); err != nil {
				return err
			}
			effect, err := parseEffect(*effectFlag)
			if err != nil {
				return err
			}

			return rt.withEngine("grant", func(ctx context.Context, e Engine) error {
				diff, err := e.ApplyRolePermissionBatch(ctx, *tenant, *role, []rbac.BatchItem{{
					ResourceKey:    *resource,
					PermissionCode: rbac.PermissionCode(strings.ToUpper(*code)),
					Effect:         effect,
				}})
				if err != nil {
					return err
				}
				return rt.print(diff)
			})
		},
	}
}

func newScopeCommand(rt *Runtime) *Command {
	return &Command{
		Name:        "scope",
		Description: "Print or replace a tenant's company-code and currency scope",
		Run: func(args []string) error {
			flags := flag.NewFlagSet("scope", flag.ContinueOnError)
			tenant := flags.Int64("tenant", 0, "Tenant ID")
			companyCodes := flags.String("company-codes", "", "Replace the company codes (comma separated, empty clears)")
			currencies := flags.String("currencies", "", "Replace the currencies (comma separated, empty clears)")
			if err := flags.Parse(args); err != nil {
				return err
			}
			if err := requireFlags(flags, "tenant"); err != nil {
				return err
			}
			set := make(map[string]bool)
			flags.Visit(func(f *flag.Flag) { set[f.Name] = true })

			return rt.withEngine("scope", func(ctx context.Context, e Engine) error {
				if set["company-codes"] {
					if _, err := e.SetCompanyCodes(ctx, *tenant, splitCodes(*companyCodes)); err != nil {
						return err
					}
				}
				if set["currencies"] {
					if _, err := e.SetCurrencies(ctx, *tenant, splitCodes(*currencies)); err != nil {
						return err
					}
				}
				s, err := e.ResolveEnabledScope(ctx, *tenant)
				if err != nil {
					return err
				}
				return rt.print(s)
			})
		},
	}
}
