// Package pagination drives repeated GET or DELETE operations across
// server-declared result pages.
//
// The server advertises continuation through two response headers:
// Next-Page, an absolute URL for the following page, and ETag, the quoted
// change token a later listing can resume from. Traversal is lazy and
// strictly sequential: a page is only requested once the previous one has
// been processed, and an unbounded traversal (PagesAll) stops when the
// server stops advertising a Next-Page.
package pagination
