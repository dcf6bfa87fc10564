// Command catalog-crawler crawls a paginated book catalog.
package main

import (
	"os"

	"github.com/JakeFAU/catalog-crawler/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
