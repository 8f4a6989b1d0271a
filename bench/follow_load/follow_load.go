// Command follow_load drives concurrent follow/unfollow traffic and then
// checks that no following list holds a duplicate. Every user logs in once,
// so run the server with LOGIN_RATE_LIMIT=0.
package main

import (
	"bytes"
	"crypto/tls"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// UserResp is the subset of the user view the load test needs.
type UserResp struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type loadUser struct {
	ID    string
	Token string
}

func main() {
	// --- Command-line flags ---
	var server string
	var duration int
	var concurrency int
	var csvFile string
	var trimPercent float64
	var certFile, keyFile string

	flag.StringVar(&server, "server", "http://localhost:8080", "server base URL")
	flag.IntVar(&duration, "duration", 30, "duration in seconds")
	flag.IntVar(&concurrency, "c", 50, "number of concurrent goroutines / users")
	flag.StringVar(&csvFile, "csv", "follow_latencies.csv", "CSV file to save latencies")
	flag.Float64Var(&trimPercent, "trim", 1.0, "percent of latency to trim from top and bottom for trimmed mean")
	flag.StringVar(&certFile, "cert", "", "client certificate for mTLS")
	flag.StringVar(&keyFile, "key", "", "client key for mTLS")
	flag.Parse()

	client := &http.Client{Timeout: 10 * time.Second}
	if certFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			panic(fmt.Sprintf("failed to load cert/key: %v", err))
		}
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{Certificates: []tls.Certificate{cert}},
		}
	}

	// --- Create and log in one user per goroutine ---
	fmt.Printf("Creating %d users...\n", concurrency)
	users := make([]loadUser, concurrency)
	for i := 0; i < concurrency; i++ {
		users[i] = createUser(client, server, fmt.Sprintf("load-user-%d-%d", i, time.Now().UnixNano()))
	}
	fmt.Println("Users created.")

	// --- Prepare concurrency test ---
	stopTime := time.Now().Add(time.Duration(duration) * time.Second)
	var wg sync.WaitGroup

	// Atomic counters for thread-safe tracking
	var requests int64
	var successes int64
	var errors4xx int64
	var errors5xx int64

	latencySlices := make([][]float64, concurrency) // each goroutine records latencies

	// --- Hammer follow/unfollow on random targets ---
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			user := users[idx]
			rnd := rand.New(rand.NewSource(time.Now().UnixNano() + int64(idx)))
			var localLatencies []float64

			for time.Now().Before(stopTime) {
				target := users[rnd.Intn(len(users))]
				if target.ID == user.ID {
					continue
				}
				method := http.MethodPut
				if rnd.Intn(2) == 0 {
					method = http.MethodDelete
				}

				start := time.Now()
				status, err := do(client, method, server+"/users/following/"+target.ID, user.Token)
				localLatencies = append(localLatencies, time.Since(start).Seconds()*1000)
				atomic.AddInt64(&requests, 1)

				if err != nil {
					fmt.Printf("Request error: %v\n", err)
					continue
				}
				switch {
				case status >= 200 && status < 300:
					atomic.AddInt64(&successes, 1)
				case status >= 400 && status < 500:
					atomic.AddInt64(&errors4xx, 1)
				case status >= 500:
					atomic.AddInt64(&errors5xx, 1)
				}
			}

			latencySlices[idx] = localLatencies
		}(i)
	}

	wg.Wait()

	// --- Merge all latencies ---
	var allLatencies []float64
	for _, slice := range latencySlices {
		allLatencies = append(allLatencies, slice...)
	}
	sort.Float64s(allLatencies)

	// --- Compute statistics ---
	fmt.Printf("Requests: %d  Successes: %d  4xx: %d  5xx: %d\n", requests, successes, errors4xx, errors5xx)
	fmt.Printf("Latency (ms): trimmed_mean=%.2f p50=%.2f p90=%.2f p99=%.2f\n",
		trimmedMean(allLatencies, trimPercent),
		percentile(allLatencies, 50), percentile(allLatencies, 90), percentile(allLatencies, 99))

	// --- Check that no following list holds a duplicate ---
	dupes := 0
	for _, u := range users {
		ids, err := listFollowing(client, server, u.ID)
		if err != nil {
			fmt.Printf("List following error: %v\n", err)
			continue
		}
		seen := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				dupes++
			}
			seen[id] = struct{}{}
		}
	}
	fmt.Printf("Duplicate following entries: %d\n", dupes)

	// --- Save latencies to CSV ---
	f, err := os.Create(csvFile)
	if err != nil {
		fmt.Printf("Failed to create CSV file: %v\n", err)
		return
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()
	w.Write([]string{"latency_ms"})
	for _, d := range allLatencies {
		w.Write([]string{fmt.Sprintf("%.3f", d)})
	}
	fmt.Printf("Saved latencies to %s\n", csvFile)

	if dupes > 0 {
		os.Exit(1)
	}
}

func createUser(client *http.Client, server, name string) loadUser {
	creds := map[string]string{"name": name, "password": "load-test-" + name}
	b, _ := json.Marshal(creds)

	resp, err := client.Post(server+"/users", "application/json", bytes.NewReader(b))
	if err != nil {
		panic(fmt.Sprintf("failed to create user: %v", err))
	}
	var u UserResp
	err = json.NewDecoder(resp.Body).Decode(&u)
	resp.Body.Close()
	if err != nil {
		panic(fmt.Sprintf("failed to decode user response: %v", err))
	}

	resp, err = client.Post(server+"/users/login", "application/json", bytes.NewReader(b))
	if err != nil {
		panic(fmt.Sprintf("failed to log in: %v", err))
	}
	var login struct {
		Token string `json:"token"`
	}
	err = json.NewDecoder(resp.Body).Decode(&login)
	resp.Body.Close()
	if err != nil || login.Token == "" {
		panic(fmt.Sprintf("failed to decode login response (status %d): %v", resp.StatusCode, err))
	}
	return loadUser{ID: u.ID, Token: login.Token}
}

func do(client *http.Client, method, url, token string) (int, error) {
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		fmt.Printf("Status %d: %s\n", resp.StatusCode, string(body))
	}
	return resp.StatusCode, nil
}

func listFollowing(client *http.Client, server, id string) ([]string, error) {
	resp, err := client.Get(server + "/users/" + id + "/following")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var users []UserResp
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(users))
	for _, u := range users {
		ids = append(ids, u.ID)
	}
	return ids, nil
}

// trimmedMean calculates mean latency after trimming top/bottom trimPercent values
func trimmedMean(data []float64, trimPercent float64) float64 {
	if len(data) == 0 {
		return 0
	}
	trim := int(float64(len(data)) * trimPercent / 100.0)
	if trim*2 >= len(data) {
		trim = len(data) / 2
	}
	trimmed := data[trim : len(data)-trim]
	if len(trimmed) == 0 {
		return 0
	}
	var sum float64
	for _, v := range trimmed {
		sum += v
	}
	return sum / float64(len(trimmed))
}

// percentile calculates the p-th percentile from sorted data
func percentile(data []float64, p float64) float64 {
	if len(data) == 0 {
		return 0
	}
	k := (p / 100.0) * float64(len(data)-1)
	f := int(k)
	c := f + 1
	if c >= len(data) {
		return data[len(data)-1]
	}
	return data[f]*(float64(c)-k) + data[c]*(k-float64(f))
}
