// Package watch implements the shared page-discovery utility installed
// once per renderer context: distinct-URL navigation callbacks and
// media-element presence tracking with adaptive polling. Programs
// receive it through their runtime instead of polling the page
// themselves.
package watch
