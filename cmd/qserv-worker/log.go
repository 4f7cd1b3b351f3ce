package main

import "github.com/qserv/qserv-go/pkg/qlog"

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	qlog.Init(qlog.Config{
		Level:      qlog.Level(logLevel),
		JSONOutput: logJSON,
	})
}
