// Package crawler drives a catalog crawl: the seed page is fetched and parsed
// first to learn how many pages exist, then every remaining page is fetched,
// parsed and stored concurrently. Failures on the seed abort the crawl;
// failures on any later page only cost that page.
package crawler
