// Package cli implements guardctl, the operator command line for the
// authorization engine.
//
// # Commands
//
// migrate: Apply the schema migrations
//
//	guardctl migrate
//
// health: Ping Postgres and Redis
//
//	guardctl health
//
// check: Decide one permission
//
//	guardctl check -tenant 1 -user 42 -resource menu.admin.users -code VIEW
//
// menu: Print a user's menu tree
//
//	guardctl menu -tenant 1 -user 42
//
// grant: Set or remove one role permission and print the diff
//
//	guardctl grant -tenant 1 -role 7 -resource menu.admin.users -code VIEW -effect ALLOW
//	guardctl grant -tenant 1 -role 7 -resource menu.admin.users -code VIEW -effect NONE
//
// scope: Print or replace a tenant's scope
//
//	guardctl scope -tenant 1
//	guardctl scope -tenant 1 -company-codes 1000,2000 -currencies KRW,USD
//
// # Configuration
//
// Connection settings come from config.LoadConfig: GUARD_* environment
// variables, optionally overlaid by the YAML file named by GUARD_CONFIG_FILE.
package cli
