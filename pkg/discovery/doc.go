/*
Package discovery implements the pluggable candidate sources from
spec.md §4.5: a static seed list, periodic UDP multicast Announce on
239.255.42.98:7878, and periodic DNS SRV+A resolution via
github.com/miekg/dns. Sources compose additively and run independently;
the directory's upsert collapses duplicates, so sources never need to
deduplicate against each other.
*/
package discovery
