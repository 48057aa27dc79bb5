// Command loyaltyd runs the venue loyalty backend.
//
//	@title			Loyalty Backend API
//	@version		1.0
//	@description	Orders, points ledger and reward redemptions for a venue loyalty program.
//	@BasePath		/api/v1
//	@schemes		http https
package main

import (
	"os"

	"github.com/tbourn/go-loyalty-backend/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
