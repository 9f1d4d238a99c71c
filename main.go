// The main package for the pbscraper executable.
package main

import "github.com/nrsyed/proboards-scraper/cmd"

func main() {
	cmd.Execute()
}
