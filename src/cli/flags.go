package cli

func (c *RootCommand) initFlags() {
	flags := c.PersistentFlags()
	flags.StringVarP(&c.Options.ConfigPath, "config", "c", "", "path to a .env file with GRAPHDB_* settings")
	flags.BoolVarP(&c.Options.Verbose, "verbose", "v", false, "log at debug level with the development encoder")
}
