package main

import (
	"os"

	"github.com/spf13/cobra"

	_ "github.com/tutorhub/lessons-api/docs" // Swagger docs (generated)
)

// @title           Lessons API
// @version         1.0
// @description     Backend of a tutoring marketplace: accounts, lesson credits, Mercado Pago checkout and bookings.

// @contact.name   API Support
// @contact.email  support@example.com

// @host      localhost:8080
// @BasePath  /

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and the access token.

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "lessons-api",
		Short: "Tutoring marketplace API",
		Long: `Lessons API serves accounts, lesson credit packages, Mercado Pago
checkout and lesson bookings over HTTP.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}
