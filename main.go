package main

import (
	"context"
	"flag"
	"log"

	"github.com/hashicorp/terraform-plugin-framework/providerserver"

	"github.com/pkgmanifest/terraform-provider-pkgmanifest/internal/provider"
	"github.com/pkgmanifest/terraform-provider-pkgmanifest/internal/target"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	var debug bool

	flag.BoolVar(&debug, "debug", false, "set to true to run the provider with support for debuggers like delve")
	flag.Parse()

	opts := providerserver.ServeOpts{
		Address: "registry.terraform.io/pkgmanifest/pkgmanifest",
		Debug:   debug,
	}

	err := providerserver.Serve(context.Background(), provider.New(version), opts)
	if cerr := target.CloseConnections(); cerr != nil {
		log.Printf("closing target connections: %s", cerr)
	}
	if err != nil {
		log.Fatal(err.Error())
	}
}
