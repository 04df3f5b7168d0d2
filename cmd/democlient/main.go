// Copyright 2016-2017 Diffeo, Inc.
// This software is released under an MIT/X11 open source license.

// Package democlient provides a load-generation tool for relayproxyd,
// adapted from coordbench: it submits many activities concurrently and
// polls their status until completion. Not part of the core relay proxy.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"os"
	"sync"
	"time"

	uuid "github.com/satori/go.uuid"
	"github.com/urfave/cli"
)

func main() {
	app := cli.NewApp()
	app.Name = "democlient"
	app.Usage = "load-generation tool for relayproxyd"
	app.Commands = []cli.Command{submitMany, poll}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var submitMany = cli.Command{
	Name:  "submit",
	Usage: "submit many activities concurrently",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "proxy", Value: "http://localhost:9090", Usage: "relayproxyd base URL"},
		cli.StringFlag{Name: "target", Required: true, Usage: "target URL to forward to"},
		cli.StringFlag{Name: "reply", Required: true, Usage: "reply URL to deliver to"},
		cli.IntFlag{Name: "count", Value: 100, Usage: "number of activities to submit"},
		cli.IntFlag{Name: "concurrency", Value: 10, Usage: "concurrent submitters"},
	},
	Action: func(c *cli.Context) error {
		proxy := c.String("proxy")
		target := c.String("target")
		reply := c.String("reply")
		count := c.Int("count")
		concurrency := c.Int("concurrency")

		jobs := make(chan int, count)
		for i := 0; i < count; i++ {
			jobs <- i
		}
		close(jobs)

		var wg sync.WaitGroup
		var failed int
		var mu sync.Mutex
		wg.Add(concurrency)
		for i := 0; i < concurrency; i++ {
			go func() {
				defer wg.Done()
				for range jobs {
					if err := submitOne(proxy, target, reply); err != nil {
						mu.Lock()
						failed++
						mu.Unlock()
					}
				}
			}()
		}
		wg.Wait()

		fmt.Printf("submitted %d activities, %d failed\n", count, failed)
		return nil
	},
}

func submitOne(proxy, target, reply string) error {
	body := []byte(fmt.Sprintf(`{"id":%q}`, uuid.NewV4().String()))
	req, err := http.NewRequest("POST", proxy+"/submit", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("X-Url", target)
	req.Header.Set("X-Reply", reply)
	req.Header.Set("X-ReplyMethod", "POST")
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("submit: unexpected status %d", resp.StatusCode)
	}
	return nil
}

var poll = cli.Command{
	Name:  "poll",
	Usage: "poll a single activity's status until it completes",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "proxy", Value: "http://localhost:9090", Usage: "relayproxyd base URL"},
		cli.StringFlag{Name: "id", Required: true, Usage: "activity id to poll"},
		cli.DurationFlag{Name: "interval", Value: time.Second, Usage: "poll interval"},
	},
	Action: func(c *cli.Context) error {
		proxy := c.String("proxy")
		id := c.String("id")
		interval := c.Duration("interval")

		for {
			resp, err := http.Get(proxy + "/message?id=" + id)
			if err != nil {
				return err
			}
			body, _ := ioutil.ReadAll(resp.Body)
			resp.Body.Close()
			fmt.Printf("%s\n", body)
			if resp.StatusCode == http.StatusOK {
				var status struct {
					State string `json:"state"`
				}
				if json.Unmarshal(body, &status) == nil && status.State == "COMPLETED" {
					return nil
				}
			}
			time.Sleep(interval)
		}
	},
}
