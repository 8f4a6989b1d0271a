// Command activity_e2e measures how long a follow takes to show up in the
// actor's activity log (server -> Kafka -> worker -> Cassandra). Run the
// server with LOGIN_RATE_LIMIT=0.
package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"
)

// UserResp represents the server's response when a user is created.
type UserResp struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Activity mirrors one entry of GET /users/{id}/activity.
type Activity struct {
	Kind     string `json:"kind"`
	TargetID string `json:"target_id"`
}

type benchUser struct {
	ID    string
	Token string
}

func main() {
	// CLI flags
	var serverAddr string
	var U, F, concurrency int
	var pollTimeout int
	var certFile, keyFile string

	flag.StringVar(&serverAddr, "server", "http://localhost:8080", "server base URL")
	flag.IntVar(&U, "users", 50, "number of users to create")
	flag.IntVar(&F, "follows", 10, "follows per user")
	flag.IntVar(&concurrency, "c", 20, "concurrency for following")
	flag.IntVar(&pollTimeout, "timeout", 10, "seconds to wait for activity delivery")
	flag.StringVar(&certFile, "cert", "", "client certificate for mTLS")
	flag.StringVar(&keyFile, "key", "", "client key for mTLS")
	flag.Parse()

	ctx := context.Background()

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

	// --- 1) Create users and log them in ---
	fmt.Printf("Creating %d users...\n", U)
	users := make([]benchUser, 0, U)
	for i := 0; i < U; i++ {
		u, err := createUser(ctx, client, serverAddr, fmt.Sprintf("user-%d-%d", i, time.Now().UnixNano()))
		if err != nil {
			fmt.Printf("create user error: %v\n", err)
			os.Exit(1)
		}
		users = append(users, u)
	}
	fmt.Println("Users created successfully.")

	// --- 2) Follow concurrently, remembering when each follow returned ---
	type followRecord struct {
		Actor  benchUser
		Target string
		Done   time.Time
	}

	fmt.Printf("Creating follows (%d per user) with concurrency %d...\n", F, concurrency)
	var wg sync.WaitGroup
	sem := make(chan struct{}, concurrency) // concurrency limiter
	followsCh := make(chan followRecord, U*F)

	for _, u := range users {
		for j := 0; j < F; j++ {
			target := users[rand.Intn(len(users))]
			if target.ID == u.ID {
				continue
			}
			wg.Add(1)
			sem <- struct{}{}
			go func(actor benchUser, target string) {
				defer wg.Done()
				defer func() { <-sem }()

				req, _ := http.NewRequestWithContext(ctx, http.MethodPut, serverAddr+"/users/following/"+target, nil)
				req.Header.Set("Authorization", "Bearer "+actor.Token)
				resp, err := client.Do(req)
				if err != nil {
					fmt.Printf("follow error: %v\n", err)
					return
				}
				resp.Body.Close()
				if resp.StatusCode != http.StatusNoContent {
					fmt.Printf("follow status: %d\n", resp.StatusCode)
					return
				}
				followsCh <- followRecord{Actor: actor, Target: target, Done: time.Now()}
			}(u, target.ID)
		}
	}

	wg.Wait()
	close(followsCh)

	// --- 3) Poll each actor's activity log for the follow ---
	fmt.Println("Checking activity delivery...")
	var latencies []float64
	var latMu sync.Mutex
	var failCount int64
	var checksWg sync.WaitGroup

	for fr := range followsCh {
		checksWg.Add(1)
		go func(fr followRecord) {
			defer checksWg.Done()
			deadline := time.Now().Add(time.Duration(pollTimeout) * time.Second)

			for time.Now().Before(deadline) {
				entries, err := activity(ctx, client, serverAddr, fr.Actor.ID)
				if err == nil {
					for _, a := range entries {
						if a.Kind == "followed" && a.TargetID == fr.Target {
							latMu.Lock()
							latencies = append(latencies, time.Since(fr.Done).Seconds()*1000)
							latMu.Unlock()
							return
						}
					}
				}
				time.Sleep(200 * time.Millisecond)
			}

			latMu.Lock()
			failCount++
			latMu.Unlock()
		}(fr)
	}

	checksWg.Wait()

	// --- 4) Compute latency statistics and export to CSV ---
	if len(latencies) == 0 {
		fmt.Println("No successful deliveries recorded.")
		return
	}
	trimPercent := 1.0
	sort.Float64s(latencies)
	trimmed := trim(latencies, trimPercent)
	fmt.Printf("Delivery stats (ms): count=%d mean=%.2f p50=%.2f p90=%.2f p99=%.2f fails=%d\n",
		len(latencies), mean(trimmed), percentile(trimmed, 50), percentile(trimmed, 90), percentile(trimmed, 99), failCount)

	// Export latencies to CSV
	f, err := os.Create("activity_latencies.csv")
	if err != nil {
		fmt.Printf("Failed to create CSV file: %v\n", err)
		return
	}
	defer f.Close()
	w := csv.NewWriter(f)
	defer w.Flush()
	w.Write([]string{"latency_ms"})
	for _, v := range latencies {
		w.Write([]string{fmt.Sprintf("%.3f", v)})
	}
	fmt.Println("Saved activity_latencies.csv")
}

func createUser(ctx context.Context, client *http.Client, server, name string) (benchUser, error) {
	b, _ := json.Marshal(map[string]string{"name": name, "password": "bench-" + name})

	var u UserResp
	if err := postJSON(ctx, client, server+"/users", b, &u); err != nil {
		return benchUser{}, fmt.Errorf("create: %w", err)
	}
	var login struct {
		Token string `json:"token"`
	}
	if err := postJSON(ctx, client, server+"/users/login", b, &login); err != nil {
		return benchUser{}, fmt.Errorf("login: %w", err)
	}
	return benchUser{ID: u.ID, Token: login.Token}, nil
}

func postJSON(ctx context.Context, client *http.Client, url string, body []byte, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

func activity(ctx context.Context, client *http.Client, server, userID string) ([]Activity, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server+"/users/"+userID+"/activity?limit=100", nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var entries []Activity
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// trim drops trimPercent of the values from both ends of sorted data.
func trim(data []float64, trimPercent float64) []float64 {
	n := int(float64(len(data)) * trimPercent / 100.0)
	if n*2 >= len(data) {
		return data
	}
	return data[n : len(data)-n]
}

func mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	var sum float64
	for _, v := range data {
		sum += v
	}
	return sum / float64(len(data))
}

// percentile calculates the requested percentile using linear interpolation.
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
