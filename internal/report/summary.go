package report

import (
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	prefix              = "   "
	runSummaryHeader    = "❯❯ Run Summary"
	successLabel        = "Succeeded"
	failureLabel        = "Failed"
	skipLabel           = "Skipped"
	separatorLineLength = 28
	labelColumnWidth    = 14
	minPadding          = 2
)

// ansiRegex is used to remove ANSI escape codes from strings.
var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// Summary formats data from a report for output as a summary.
type Summary struct {
	firstRunStart        *time.Time
	lastRunEnd           *time.Time
	runs                 []*Run
	TasksSucceeded       int
	TasksFailed          int
	TasksSkipped         int
	Attempts             int
	shouldColor          bool
	showTaskLevelSummary bool
}

// Summarize returns a summary of the report.
func (r *Report) Summarize() *Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	summary := &Summary{
		shouldColor:          r.shouldColor,
		showTaskLevelSummary: r.showTaskLevelSummary,
		runs:                 r.Runs,
	}

	for _, run := range r.Runs {
		summary.Update(run)
	}

	return summary
}

// TotalTasks returns the number of tasks in the summary.
func (s *Summary) TotalTasks() int {
	return len(s.runs)
}

// Update adds a run to the counters.
func (s *Summary) Update(run *Run) {
	run.mu.RLock()
	defer run.mu.RUnlock()

	switch run.Result {
	case ResultSucceeded:
		s.TasksSucceeded++
	case ResultFailed:
		s.TasksFailed++
	case ResultSkipped:
		s.TasksSkipped++
	}

	s.Attempts += run.Attempts

	if !run.Started.IsZero() && (s.firstRunStart == nil || run.Started.Before(*s.firstRunStart)) {
		s.firstRunStart = &run.Started
	}

	if !run.Ended.IsZero() && (s.lastRunEnd == nil || run.Ended.After(*s.lastRunEnd)) {
		s.lastRunEnd = &run.Ended
	}
}

// TotalDuration returns the time between the first start and the last end of the runs in the report.
func (s *Summary) TotalDuration() time.Duration {
	if s.firstRunStart == nil || s.lastRunEnd == nil {
		return 0
	}

	return s.lastRunEnd.Sub(*s.firstRunStart)
}

// WriteSummary writes the summary to a writer.
func (r *Report) WriteSummary(w io.Writer) error {
	summary := r.Summarize()

	// Don't write anything if there are no tasks
	if summary.TotalTasks() == 0 {
		return nil
	}

	if _, err := fmt.Fprintln(w); err != nil {
		return err
	}

	if err := summary.Write(w); err != nil {
		return err
	}

	_, err := fmt.Fprintln(w)

	return err
}

// Write writes the summary to a writer.
func (s *Summary) Write(w io.Writer) error {
	colorizer := NewColorizer(s.shouldColor)

	header := fmt.Sprintf("%s  %s  %s",
		colorizer.headingTitleColorizer(runSummaryHeader),
		colorizer.headingTaskColorizer(fmt.Sprintf("%d tasks", s.TotalTasks())),
		colorizer.colorDuration(s.TotalDuration()),
	)

	lines := []string{
		header,
		prefix + strings.Repeat("─", separatorLineLength),
	}

	categories := []struct {
		colorizer func(string) string
		result    Result
		label     string
		count     int
	}{
		{colorizer.successColorizer, ResultSucceeded, successLabel, s.TasksSucceeded},
		{colorizer.failureColorizer, ResultFailed, failureLabel, s.TasksFailed},
		{colorizer.skipColorizer, ResultSkipped, skipLabel, s.TasksSkipped},
	}

	for _, category := range categories {
		if category.count == 0 {
			continue
		}

		label := category.colorizer(category.label)
		lines = append(lines, prefix+label+s.padding(label, labelColumnWidth, colorizer)+strconv.Itoa(category.count))

		if s.showTaskLevelSummary {
			lines = append(lines, s.taskLines(category.result, colorizer)...)
		}
	}

	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}

	return nil
}

// taskLines lists the tasks with the given result, with their duration and attempt count.
func (s *Summary) taskLines(result Result, colorizer *Colorizer) []string {
	width := 0

	for _, run := range s.runs {
		width = max(width, len(run.Name))
	}

	var lines []string

	for _, run := range s.runs {
		run.mu.RLock()
		name, runResult, attempts, reason := run.Name, run.Result, run.Attempts, run.Reason
		run.mu.RUnlock()

		if runResult != result {
			continue
		}

		line := strings.Repeat(prefix, 2) + name + s.padding(name, width, colorizer) + colorizer.colorDuration(run.Duration())

		if attempts > 1 {
			line += fmt.Sprintf(" (%d attempts)", attempts)
		}

		if reason != nil && *reason != ReasonRetrySucceeded && *reason != ReasonRunError {
			line += fmt.Sprintf(" [%s]", *reason)
		}

		lines = append(lines, line)
	}

	return lines
}

// padding returns the dots aligning the value after text to the given column.
func (s *Summary) padding(text string, column int, colorizer *Colorizer) string {
	needed := column - visualLength(text)
	if needed < minPadding {
		return "  "
	}

	return " " + colorizer.paddingColorizer(strings.Repeat(".", needed-minPadding)) + " "
}

// visualLength calculates the visual length of a string by removing ANSI escape codes.
func visualLength(text string) int {
	return len([]rune(ansiRegex.ReplaceAllString(text, "")))
}
