package config

import (
	"os"
	"path/filepath"
	"testing"

	gc "gopkg.in/check.v1"
)

func Test(t *testing.T) { gc.TestingT(t) }

var _ = gc.Suite(new(ConfigTestSuite))

type ConfigTestSuite struct{}

func (s *ConfigTestSuite) TestDefaults(c *gc.C) {
	cfg := Default()
	c.Assert(cfg.Addr, gc.Equals, "0.0.0.0")
	c.Assert(cfg.Port, gc.Equals, 8000)
	c.Assert(cfg.FromfilePrefix, gc.Equals, "@")
}

func (s *ConfigTestSuite) TestLoadEmptyPathReturnsDefaults(c *gc.C) {
	cfg, err := Load("")
	c.Assert(err, gc.IsNil)
	c.Assert(cfg, gc.DeepEquals, Default())
}

func (s *ConfigTestSuite) TestLoadParsesTOMLAndResolvesFromfile(c *gc.C) {
	dir := c.MkDir()
	beforeRunPath := filepath.Join(dir, "before_run.py")
	c.Assert(os.WriteFile(beforeRunPath, []byte("import sys\n"), 0o644), gc.IsNil)

	cfgPath := filepath.Join(dir, "notebookd.toml")
	contents := `
addr = "127.0.0.1"
port = 9001
repl_command = "python3"
repl_arguments = ["-u"]
before_run = "@` + beforeRunPath + `"
`
	c.Assert(os.WriteFile(cfgPath, []byte(contents), 0o644), gc.IsNil)

	cfg, err := Load(cfgPath)
	c.Assert(err, gc.IsNil)
	c.Assert(cfg.Addr, gc.Equals, "127.0.0.1")
	c.Assert(cfg.Port, gc.Equals, 9001)
	c.Assert(cfg.ReplCommand, gc.Equals, "python3")
	c.Assert(cfg.BeforeRun, gc.Equals, "import sys\n")
}

func (s *ConfigTestSuite) TestResolveValueLeavesNonFromfileAlone(c *gc.C) {
	cfg := Default()
	v, err := cfg.resolveValue("plain-value")
	c.Assert(err, gc.IsNil)
	c.Assert(v, gc.Equals, "plain-value")
}
