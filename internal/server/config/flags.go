package config

import (
	"flag"
	"os"
	"time"

	"github.com/ompldr/server/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN
//	-k string   identity token AES key
//	-i string   identity token AES IV
//	-u string   S3 root user
//	-p string   S3 root password
//	-e string   S3 base endpoint
//	-b string   S3 bucket prefix
//	-g string   S3 current region
//	-R list     S3 regions, comma separated
//	-l string   LND gRPC host
//	-t string   LND TLS certificate path
//	-m string   LND macaroon path
//	-r string   Redis address (empty disables the price cache)
//	-s int      unpaid invoice re-check interval, minutes
//	-v string   log level
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{
		"-a", "-d", "-k", "-i", "-u", "-p", "-e", "-b", "-g", "-R", "-l", "-t", "-m", "-r", "-s", "-v",
	})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.HTTPAddr, "a", config.HTTPAddr, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.IdentityKey, "k", config.IdentityKey, "file token key")
	fs.StringVar(&config.IdentityIV, "i", config.IdentityIV, "file token IV")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")
	fs.StringVar(&config.S3BucketPrefix, "b", config.S3BucketPrefix, "S3 bucket prefix")
	fs.StringVar(&config.S3CurrentRegion, "g", config.S3CurrentRegion, "S3 current region")

	regions := flagx.StringList(config.S3Regions)
	fs.Var(&regions, "R", "S3 regions, comma separated")

	fs.StringVar(&config.LndHost, "l", config.LndHost, "LND host")
	fs.StringVar(&config.LndCertPath, "t", config.LndCertPath, "LND TLS cert path")
	fs.StringVar(&config.LndMacaroonPath, "m", config.LndMacaroonPath, "LND macaroon path")

	fs.StringVar(&config.RedisAddr, "r", config.RedisAddr, "Redis address")

	unpaidCheckInterval := fs.Int("s", int(config.UnpaidCheckInterval.Minutes()), "unpaid invoice check interval (in minutes)")

	fs.StringVar(&config.LogLevel, "v", config.LogLevel, "log level")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.S3Regions = []string(regions)
	config.UnpaidCheckInterval = time.Duration(*unpaidCheckInterval) * time.Minute
}
