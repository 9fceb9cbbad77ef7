package cmd

import (
	"TuneSweep/server"

	"github.com/spf13/cobra"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "启动TuneSweep服务器",
	Long:  `启动重复曲目分析引擎的HTTP服务器，提供分析、进度查询和清理API`,
	Run: func(cmd *cobra.Command, args []string) {
		server.Start()
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}
