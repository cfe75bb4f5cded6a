// Package workspace lays out the directories of a pipeline run on disk.
//
// Each run gets <base>/<run id>/ holding one directory per job with its
// isolated work dir, the read-only artifacts of upstream jobs, the restored
// cache and the job log. Runs are removed on Cleanup unless the manager
// keeps them for inspection.
package workspace
