package main

import (
	"log"
	"net/http"

	"github.com/FormVault/intake-service/internal/db"
	ophttp "github.com/FormVault/intake-service/internal/http"
)

func main() {
	log.Println("intake-service starting on :8080")

	database, err := db.Connect()
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	router := ophttp.SetupRouter(database)
	log.Fatal(http.ListenAndServe(":8080", router))
}
