// Command portalctl drives the portal's session bootstrap from a terminal:
// it signs in, keeps the session in a file, and shows where a navigation
// would land.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/shopdesk/merchant-portal/internal/logging"
	"github.com/shopdesk/merchant-portal/internal/session"
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: portalctl [flags] <command> [args]

commands:
  signin -email E [-password P]   sign in (password defaults to $PORTAL_PASSWORD)
  logout                          sign out and clear the stored session
  status                          print session state and stored user
  open ROUTE                      resolve a navigation, e.g. open /dashboard

flags:
`)
	flag.PrintDefaults()
}

func defaultSessionPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "portalctl", "session.json")
}

func main() {
	_ = godotenv.Load(".env.local")

	apiURL := os.Getenv("REACT_APP_API_URL")
	if apiURL == "" {
		apiURL = "http://localhost:5050"
	}

	var (
		api      = flag.String("api", apiURL, "API base URL (default: $REACT_APP_API_URL)")
		path     = flag.String("session", defaultSessionPath(), "session file")
		logLevel = flag.String("log-level", "warn", "log level")
	)
	flag.Usage = usage
	flag.Parse()
	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	log := logging.NewWithOutput(*logLevel, os.Stderr)
	client := session.NewClient(*api, session.NewFileStore(*path))
	client.Log = log

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := run(ctx, client, flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "portalctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, c *session.Client, cmd string, args []string) error {
	switch cmd {
	case "signin":
		fs := flag.NewFlagSet("signin", flag.ExitOnError)
		email := fs.String("email", "", "account email")
		password := fs.String("password", os.Getenv("PORTAL_PASSWORD"), "account password")
		_ = fs.Parse(args)
		if *email == "" {
			return fmt.Errorf("signin: -email is required")
		}
		route, err := c.SignIn(ctx, *email, *password)
		if err != nil {
			return err
		}
		fmt.Println(route)
		return nil

	case "logout":
		route, err := c.Logout(ctx)
		if err != nil {
			return err
		}
		fmt.Println(route)
		return nil

	case "status":
		fmt.Println(c.State())
		u, err := c.CurrentUser()
		if err != nil {
			return err
		}
		if u != nil {
			fmt.Printf("%s <%s> (%s)\n", u.Name, u.Email, u.Role)
		}
		return nil

	case "open":
		if len(args) != 1 {
			return fmt.Errorf("open: expected exactly one route")
		}
		route, err := c.Enter(ctx, session.Route(args[0]))
		fmt.Println(route)
		return err

	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}
