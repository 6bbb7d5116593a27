package main

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"

	"github.com/felixgeelhaar/studyloop/internal/daemon"
	"github.com/felixgeelhaar/studyloop/internal/domain"
)

func requireDaemon() error {
	if !isRunning() {
		return fmt.Errorf("daemon not running (run 'studyloop start' first)")
	}
	return nil
}

// cmdResources lists the resource catalogue
func cmdResources() error {
	if err := requireDaemon(); err != nil {
		return err
	}

	var list struct {
		Resources []string `json:"resources"`
	}
	if err := getJSON("/v1/resources", &list); err != nil {
		return fmt.Errorf("list resources: %w", err)
	}

	if len(list.Resources) == 0 {
		fmt.Println("No resources found.")
		return nil
	}

	fmt.Println("Available Resources:")
	for _, id := range list.Resources {
		var res daemon.ResourceResponse
		if err := getJSON("/v1/resources/"+url.PathEscape(id), &res); err != nil {
			fmt.Printf("  %-24s (unreadable: %v)\n", id, err)
			continue
		}
		fmt.Printf("  %-24s %-30s %d segments, %.0f points\n", res.ID, res.Title, len(res.Pipeline), res.MaxScore)
	}
	return nil
}

// cmdAttempts lists a learner's attempts at one resource
func cmdAttempts(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: studyloop attempts <user> <resource>")
	}
	if err := requireDaemon(); err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodGet, daemonAddr()+"/v1/resources/"+url.PathEscape(args[1])+"/attempts", nil)
	if err != nil {
		return err
	}
	req.Header.Set(daemon.UserIDHeader, args[0])

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("list attempts: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Attempts []domain.Attempt `json:"attempts"`
	}
	if err := decodeBody(resp, &result); err != nil {
		return fmt.Errorf("list attempts: %w", err)
	}

	if len(result.Attempts) == 0 {
		fmt.Println("No attempts yet.")
		return nil
	}

	fmt.Printf("Attempts of %s at %s\n", args[0], args[1])
	for _, a := range result.Attempts {
		score := "in progress"
		if a.FinalScore != nil {
			score = fmt.Sprintf("%.2f", *a.FinalScore)
		}
		fmt.Printf("  #%-3d %-12s started %s\n", a.AttemptNumber, score, a.StartedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

// cmdPoints shows a learner's total and best score per resource
func cmdPoints(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: studyloop points <user>")
	}
	if err := requireDaemon(); err != nil {
		return err
	}
	user := url.PathEscape(args[0])

	var points struct {
		TotalPoints float64 `json:"total_points"`
	}
	if err := getJSON("/v1/users/"+user+"/points", &points); err != nil {
		return fmt.Errorf("get points: %w", err)
	}

	var best struct {
		Best map[string]float64 `json:"best"`
	}
	if err := getJSON("/v1/users/"+user+"/best", &best); err != nil {
		return fmt.Errorf("get best scores: %w", err)
	}

	fmt.Printf("Total Points: %.2f\n", points.TotalPoints)
	if len(best.Best) == 0 {
		return nil
	}

	ids := make([]string, 0, len(best.Best))
	for id := range best.Best {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	fmt.Println("\nBest Score per Resource")
	fmt.Println("-----------------------")
	for _, id := range ids {
		fmt.Printf("%-24s %7.2f\n", id, best.Best[id])
	}
	return nil
}

// cmdRanking shows the global ranking
func cmdRanking(args []string) error {
	path := "/v1/ranking"
	if len(args) > 0 {
		if _, err := strconv.Atoi(args[0]); err != nil {
			return fmt.Errorf("limit must be a number: %s", args[0])
		}
		path += "?limit=" + args[0]
	}
	if err := requireDaemon(); err != nil {
		return err
	}

	var result struct {
		Ranking []domain.RankingEntry `json:"ranking"`
	}
	if err := getJSON(path, &result); err != nil {
		return fmt.Errorf("get ranking: %w", err)
	}

	if len(result.Ranking) == 0 {
		fmt.Println("No finalized attempts yet.")
		return nil
	}

	top := result.Ranking[0].TotalScore
	fmt.Println("Ranking")
	fmt.Println("=======")
	for i, entry := range result.Ranking {
		share := 0.0
		if top > 0 {
			share = entry.TotalScore / top
		}
		fmt.Printf("%3d. %-20s %s %.2f\n", i+1, entry.UserID, renderProgressBar(share, 20), entry.TotalScore)
	}
	return nil
}
