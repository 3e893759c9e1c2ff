// Package interval parses schedule expressions and computes the next run
// instant for a scheduled job.
//
// Four forms are recognized, in this precedence: numeric seconds, a daily
// fixed time ("AT HH:mm[:ss]"), a cron expression (5- or 6-field), and a
// human interval ("3 hours 15 minutes", "5m"). See ComputeNextRunAt.
package interval
