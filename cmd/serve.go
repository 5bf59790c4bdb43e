package cmd

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/joescharf/tix/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long:  "Start an HTTP server exposing the ticket store as a REST API.\nBy default it listens on port 8080. Use --port to change it.",
	RunE: func(cmd *cobra.Command, args []string) error {
		port := viper.GetInt("serve.port")

		s, err := getStore()
		if err != nil {
			return err
		}
		handler := api.NewServer(s).Router()

		addr := fmt.Sprintf(":%d", port)
		fmt.Printf("Serving ticket API at http://localhost%s/api/v1/tickets\n", addr)
		return http.ListenAndServe(addr, handler)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on")
	_ = viper.BindPFlag("serve.port", serveCmd.Flags().Lookup("port"))
}
