// Package coldshock holds the shared file-access plumbing for the
// sampling-artifact analysis tools: transparent local-or-Google-Storage
// opens, compression sniffing, delimiter detection for user-supplied
// tables, and input checksumming for provenance records.
package coldshock
