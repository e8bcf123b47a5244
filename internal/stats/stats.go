// Package stats derives per-student figures from stored contest and
// submission records. All functions are pure.
package stats

import (
	"sort"
	"strconv"
	"time"

	"cftrack/internal/model"
)

const (
	DefaultBucketWidth = 100
	HeatmapLayout      = "2006-01-02"
)

// windowStart is the first instant inside a window of days ending at now.
func windowStart(now time.Time, days int) time.Time {
	return now.Add(-time.Duration(days) * 24 * time.Hour)
}

// ProblemStats computes solve figures over the last days days. A problem
// counts once, at its first OK submission, and only when that first solve
// falls inside the window. Unrated problems are excluded from rating figures.
func ProblemStats(subs []model.SubmissionRecord, now time.Time, days, bucketWidth int) model.ProblemStats {
	if days <= 0 {
		days = 1
	}
	if bucketWidth <= 0 {
		bucketWidth = DefaultBucketWidth
	}
	from := windowStart(now, days)
	out := model.ProblemStats{
		RatingBuckets: map[string]int{},
		Heatmap:       map[string]int{},
		WindowDays:    days,
		ComputedAt:    now,
	}

	firstSolve := map[string]model.SubmissionRecord{}
	for _, s := range subs {
		if !s.SubmittedAt.Before(from) && !s.SubmittedAt.After(now) {
			out.Heatmap[s.SubmittedAt.UTC().Format(HeatmapLayout)]++
		}
		if s.Verdict != model.VerdictOK {
			continue
		}
		k := s.ProblemKey()
		if prev, ok := firstSolve[k]; !ok || s.SubmittedAt.Before(prev.SubmittedAt) {
			firstSolve[k] = s
		}
	}

	keys := make([]string, 0, len(firstSolve))
	for k, s := range firstSolve {
		if s.SubmittedAt.Before(from) || s.SubmittedAt.After(now) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ratedSum, rated := 0, 0
	for _, k := range keys {
		s := firstSolve[k]
		out.TotalSolved++
		if s.ProblemRating <= 0 {
			continue
		}
		rated++
		ratedSum += s.ProblemRating
		band := (s.ProblemRating / bucketWidth) * bucketWidth
		out.RatingBuckets[strconv.Itoa(band)]++
		if out.MostDifficult == nil || s.ProblemRating > out.MostDifficult.Rating {
			out.MostDifficult = &model.SolvedProblem{
				ContestID:    s.ContestID,
				ProblemIndex: s.ProblemIndex,
				Name:         s.ProblemName,
				Rating:       s.ProblemRating,
			}
		}
	}
	if rated > 0 {
		out.AvgRating = float64(ratedSum) / float64(rated)
	}
	out.AvgProblemsPerDay = float64(out.TotalSolved) / float64(days)
	return out
}

// ContestsSince keeps contests dated within the last days days, oldest first.
func ContestsSince(contests []model.ContestRecord, now time.Time, days int) []model.ContestRecord {
	from := windowStart(now, days)
	out := make([]model.ContestRecord, 0, len(contests))
	for _, c := range contests {
		if !c.ContestDate.Before(from) {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ContestDate.Before(out[j].ContestDate) })
	return out
}

type RatingPoint struct {
	ContestID int       `json:"contest_id"`
	Date      time.Time `json:"date"`
	Rating    int       `json:"rating"`
}

// RatingGraph is the post-contest rating series over the last days days.
func RatingGraph(contests []model.ContestRecord, now time.Time, days int) []RatingPoint {
	in := ContestsSince(contests, now, days)
	out := make([]RatingPoint, 0, len(in))
	for _, c := range in {
		out = append(out, RatingPoint{ContestID: c.ContestID, Date: c.ContestDate, Rating: c.NewRating})
	}
	return out
}

// UnsolvedByContest counts, per contest, the distinct problems that were
// submitted to but never accepted.
func UnsolvedByContest(subs []model.SubmissionRecord) map[int]int {
	tried := map[string]int{}
	solved := map[string]bool{}
	for _, s := range subs {
		k := s.ProblemKey()
		tried[k] = s.ContestID
		if s.Verdict == model.VerdictOK {
			solved[k] = true
		}
	}
	out := map[int]int{}
	for k, cid := range tried {
		if !solved[k] {
			out[cid]++
		}
	}
	return out
}

// Ratings returns the latest and the highest post-contest rating, or nils
// when there are no contests.
func Ratings(contests []model.ContestRecord) (current, highest *int) {
	if len(contests) == 0 {
		return nil, nil
	}
	latest := contests[0]
	hi := contests[0].NewRating
	for _, c := range contests[1:] {
		if c.ContestDate.After(latest.ContestDate) || (c.ContestDate.Equal(latest.ContestDate) && c.ContestID > latest.ContestID) {
			latest = c
		}
		hi = max(hi, c.NewRating)
	}
	cur := latest.NewRating
	return &cur, &hi
}
