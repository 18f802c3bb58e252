package migration

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
)

// CLI renders migration operations for the composer command line. Output
// goes to stdout unless redirected with SetOutput.
type CLI struct {
	migrator *Migrator
	out      io.Writer
}

// NewCLI wraps a migrator for command-line use.
func NewCLI(m *Migrator) *CLI {
	return &CLI{migrator: m, out: os.Stdout}
}

// SetOutput redirects the CLI's output.
func (c *CLI) SetOutput(w io.Writer) {
	c.out = w
}

// RunUp applies every pending migration and reports the resulting version.
func (c *CLI) RunUp() error {
	if err := c.migrator.Up(); err != nil {
		return err
	}
	return c.reportVersion("schema is up to date")
}

// RunDown rolls back the most recent migration.
func (c *CLI) RunDown() error {
	if err := c.migrator.Rollback(); err != nil {
		return err
	}
	return c.reportVersion("rolled back one migration")
}

// RunDownAll rolls back every applied migration.
func (c *CLI) RunDownAll() error {
	if err := c.migrator.Reset(); err != nil {
		return err
	}
	fmt.Fprintln(c.out, "schema reset, all migrations rolled back")
	return nil
}

// RunGoto migrates to a specific version, up or down.
func (c *CLI) RunGoto(version uint) error {
	if err := c.migrator.Goto(version); err != nil {
		return err
	}
	return c.reportVersion(fmt.Sprintf("migrated to version %d", version))
}

// RunForce overwrites the recorded version without running migrations.
func (c *CLI) RunForce(version int) error {
	if err := c.migrator.Force(version); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "version forced to %d\n", version)
	return nil
}

// RunVersion prints the current schema version.
func (c *CLI) RunVersion() error {
	version, dirty, err := c.migrator.Version()
	if err != nil {
		return err
	}
	switch {
	case version == 0:
		fmt.Fprintln(c.out, "no migrations applied")
	case dirty:
		fmt.Fprintf(c.out, "version %d (dirty, fix with force)\n", version)
	default:
		fmt.Fprintf(c.out, "version %d\n", version)
	}
	return nil
}

// RunStatus prints a table of every embedded migration and a summary line.
func (c *CLI) RunStatus() error {
	status, err := c.migrator.Status()
	if err != nil {
		return err
	}
	if len(status.Entries) == 0 {
		fmt.Fprintln(c.out, "no migrations found")
		return nil
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tSTATE")
	for _, e := range status.Entries {
		state := "pending"
		if e.Applied {
			state = "applied"
		}
		if status.Dirty && e.Version == status.Current {
			state = "dirty"
		}
		fmt.Fprintf(w, "%06d\t%s\t%s\n", e.Version, e.Name, state)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(c.out, "\n%d applied, %d pending\n", status.AppliedCount(), status.PendingCount())
	return nil
}

func (c *CLI) reportVersion(prefix string) error {
	version, _, err := c.migrator.Version()
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s, current version %d\n", prefix, version)
	return nil
}
