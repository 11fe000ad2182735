package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/finvoice/go-apix-client/apix"
	"github.com/finvoice/go-apix-client/apix/fetch"
	"github.com/finvoice/go-apix-client/apix/task"
	"github.com/finvoice/go-apix-client/apix/util"
)

func main() {

	_ = godotenv.Load()

	if util.DebugEnabled() {
		logrus.SetLevel(logrus.DebugLevel)
	}

	var env apix.Environment
	if err := env.UnmarshalText([]byte(util.GetEnvOrDefault("APIX_ENV", "test"))); err != nil {
		panic(err)
	}

	cfg := apix.Config{
		Environment:  env,
		Username:     util.GetEnvOrFailed("APIX_USERNAME"),
		Password:     util.GetEnvOrFailed("APIX_PASSWORD"),
		BusinessID:   util.GetEnvOrFailed("APIX_BUSINESS_ID"),
		Prefix:       util.GetEnvOrDefault("APIX_PREFIX", ""),
		SupportEmail: util.GetEnvOrDefault("APIX_SUPPORT_EMAIL", ""),
	}

	httpClient := &http.Client{
		Timeout: 15 * time.Second,
	}

	client, err := apix.NewClient(cfg, httpClient)
	if err != nil {
		panic(err)
	}

	ctx := context.Background()

	registry := apix.NewRegistry()
	session, err := registry.Authenticate(ctx, cfg.FullBusinessID(), client)
	if err != nil {
		panic(err)
	}

	customer := session.Customer()
	fmt.Printf("Authenticated as %s (%s), contact %s <%s>\n",
		customer.CustomerID, customer.CustomerNumber,
		customer.ContactPerson, customer.ContactEmail)

	inbox := util.GetEnvOrDefault("APIX_INBOX_DIR", "inbox")
	importer := fetch.NewDirImporter(inbox)

	orchestrator := fetch.NewOrchestrator(session, task.Inline{}, importer, importer)
	scheduled, err := orchestrator.Fetch(ctx, false)
	if err != nil {
		panic(err)
	}

	fmt.Printf("Imported %d invoice(s) into %s\n", scheduled, inbox)
}
