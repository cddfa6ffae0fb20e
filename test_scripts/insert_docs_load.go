package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/adfharrison1/go-reql/pkg/domain"
	"github.com/adfharrison1/go-reql/pkg/driver"
	"github.com/adfharrison1/go-reql/pkg/rql"
)

// User represents the structure of a user document to insert
type User struct {
	Name  string `json:"name"`
	Age   int    `json:"age"`
	Email string `json:"email"`
}

// generateRandomName generates a random 6-letter name
func generateRandomName() string {
	const letters = "abcdefghijklmnopqrstuvwxyz"
	name := make([]byte, 6)
	for i := range name {
		name[i] = letters[rand.Intn(len(letters))]
	}
	// Capitalize first letter
	name[0] = name[0] - 32
	return string(name)
}

// generateRandomAge generates a random age between 18 and 99
func generateRandomAge() int {
	return rand.Intn(82) + 18
}

// main inserts users through the driver. Connection settings come from
// REQL_HOST, REQL_PORT, REQL_DB and REQL_AUTH_KEY.
func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run test_scripts/insert_docs_load.go <number_of_users> [noreply]")
		fmt.Println("Example: go run test_scripts/insert_docs_load.go 1000")
		fmt.Println("Example: REQL_PORT=9090 go run test_scripts/insert_docs_load.go 1000 noreply")
		os.Exit(1)
	}

	numUsers, err := strconv.Atoi(os.Args[1])
	if err != nil || numUsers <= 0 {
		fmt.Printf("Error: Invalid number of users '%s'. Please provide a positive integer.\n", os.Args[1])
		os.Exit(1)
	}
	noreply := len(os.Args) >= 3 && os.Args[2] == "noreply"

	opts, err := driver.LoadConnectOpts("REQL_", "")
	if err != nil {
		log.Fatalf("ERROR: %v", err)
	}
	ctx := context.Background()
	conn, err := driver.Connect(ctx, opts)
	if err != nil {
		log.Fatalf("ERROR: %v", err)
	}
	defer conn.Close(ctx)

	if _, err := rql.TableCreate("users").Run(ctx, conn); err != nil && !errors.Is(err, domain.ErrAlreadyExists) {
		log.Fatalf("ERROR: failed to create users table: %v", err)
	}

	fmt.Printf("Starting load test: inserting %d users to %s (noreply: %v)\n", numUsers, opts.Addr(), noreply)

	startTime := time.Now()
	successCount := 0
	errorCount := 0
	reportInterval := max(1, numUsers/10)

	for i := 0; i < numUsers; i++ {
		name := generateRandomName()
		user := User{
			Name:  name,
			Age:   generateRandomAge(),
			Email: fmt.Sprintf("%s@example.com", name),
		}

		res, err := rql.Table("users").Insert(user).Run(ctx, conn, rql.RunOpts{Noreply: noreply})
		if err == nil {
			err = res.Err()
		}
		if err != nil {
			errorCount++
			fmt.Printf("Error inserting user %d (%s): %v\n", i+1, user.Name, err)
		} else {
			successCount++
		}

		if (i+1)%reportInterval == 0 || i == numUsers-1 {
			elapsed := time.Since(startTime)
			rate := float64(i+1) / elapsed.Seconds()
			fmt.Printf("Progress: %d/%d users (%.1f%%) - Rate: %.1f users/sec - Success: %d, Errors: %d\n",
				i+1, numUsers, float64(i+1)/float64(numUsers)*100, rate, successCount, errorCount)
		}
	}

	if noreply {
		if err := conn.NoreplyWait(ctx); err != nil {
			log.Fatalf("ERROR: noreply wait failed: %v", err)
		}
	}

	totalTime := time.Since(startTime)
	averageRate := float64(numUsers) / totalTime.Seconds()

	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println("LOAD TEST COMPLETE")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("Total users attempted: %d\n", numUsers)
	fmt.Printf("Successful inserts:    %d\n", successCount)
	fmt.Printf("Failed inserts:        %d\n", errorCount)
	fmt.Printf("Success rate:          %.2f%%\n", float64(successCount)/float64(numUsers)*100)
	fmt.Printf("Total time:            %v\n", totalTime)
	fmt.Printf("Average rate:          %.2f users/sec\n", averageRate)
	fmt.Printf("Average time per user: %v\n", totalTime/time.Duration(numUsers))

	if errorCount > 0 {
		fmt.Printf("\nWarning: %d errors occurred during the load test\n", errorCount)
		os.Exit(1)
	}

	fmt.Println("\nLoad test completed successfully!")
}
