package stats

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"cftrack/internal/model"
)

var now = time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)

func sub(id int64, contest int, idx string, rating int, verdict string, ago time.Duration) model.SubmissionRecord {
	return model.SubmissionRecord{
		SubmissionID:  id,
		ContestID:     contest,
		ProblemIndex:  idx,
		ProblemName:   idx + " problem",
		ProblemRating: rating,
		Verdict:       verdict,
		SubmittedAt:   now.Add(-ago),
	}
}

const day = 24 * time.Hour

func TestProblemStats(t *testing.T) {
	Convey("Given a mixed submission history", t, func() {
		subs := []model.SubmissionRecord{
			sub(1, 100, "A", 800, "WRONG_ANSWER", 2*day),
			sub(2, 100, "A", 800, model.VerdictOK, 2*day-time.Hour),
			sub(3, 100, "A", 800, model.VerdictOK, day), // resubmit, counted once
			sub(4, 100, "B", 1250, model.VerdictOK, 3*day),
			sub(5, 101, "C", 0, model.VerdictOK, 3*day), // unrated
			sub(6, 102, "D", 2100, model.VerdictOK, 40*day),
			sub(7, 103, "E", 1900, model.VerdictOK, 200*day), // first solve outside 90d
			sub(8, 103, "E", 1900, model.VerdictOK, 5*day),
		}
		st := ProblemStats(subs, now, 30, 100)

		Convey("Solved problems are distinct and windowed by first solve", func() {
			So(st.TotalSolved, ShouldEqual, 3)
			So(st.MostDifficult, ShouldNotBeNil)
			So(st.MostDifficult.Rating, ShouldEqual, 1250)
			So(st.AvgRating, ShouldAlmostEqual, (800.0+1250.0)/2)
			So(st.AvgProblemsPerDay, ShouldAlmostEqual, 3.0/30)
		})

		Convey("Buckets use the band floor", func() {
			So(st.RatingBuckets, ShouldResemble, map[string]int{"800": 1, "1200": 1})
		})

		Convey("The heatmap counts every submission in the window by UTC day", func() {
			total := 0
			for _, n := range st.Heatmap {
				total += n
			}
			So(total, ShouldEqual, 6)
			So(st.Heatmap[now.Add(-3*day).Format(HeatmapLayout)], ShouldEqual, 2)
		})

		Convey("A wider window picks up older first solves only", func() {
			wide := ProblemStats(subs, now, 90, 100)
			So(wide.TotalSolved, ShouldEqual, 4)
			So(wide.MostDifficult.Rating, ShouldEqual, 2100)
		})
	})

	Convey("No submissions gives zeroed figures", t, func() {
		st := ProblemStats(nil, now, 7, 0)
		So(st.TotalSolved, ShouldEqual, 0)
		So(st.MostDifficult, ShouldBeNil)
		So(st.AvgRating, ShouldEqual, 0)
		So(st.WindowDays, ShouldEqual, 7)
	})
}

func TestContestsAndRatings(t *testing.T) {
	t.Parallel()
	contests := []model.ContestRecord{
		{ContestID: 3, NewRating: 1400, ContestDate: now.Add(-10 * day)},
		{ContestID: 1, NewRating: 1500, ContestDate: now.Add(-400 * day)},
		{ContestID: 2, NewRating: 1700, ContestDate: now.Add(-100 * day)},
	}

	got := ContestsSince(contests, now, 365)
	if len(got) != 2 || got[0].ContestID != 2 || got[1].ContestID != 3 {
		t.Fatalf("ContestsSince = %+v", got)
	}
	graph := RatingGraph(contests, now, 3650)
	if len(graph) != 3 || graph[0].Rating != 1500 || graph[2].Rating != 1400 {
		t.Fatalf("RatingGraph = %+v", graph)
	}

	cur, hi := Ratings(contests)
	if *cur != 1400 || *hi != 1700 {
		t.Fatalf("Ratings = %d, %d", *cur, *hi)
	}
	if c, h := Ratings(nil); c != nil || h != nil {
		t.Fatal("Ratings(nil) should be nil")
	}
}

func TestUnsolvedByContest(t *testing.T) {
	t.Parallel()
	subs := []model.SubmissionRecord{
		sub(1, 100, "A", 0, "WRONG_ANSWER", day),
		sub(2, 100, "A", 0, model.VerdictOK, day),
		sub(3, 100, "B", 0, "TIME_LIMIT_EXCEEDED", day),
		sub(4, 100, "B", 0, "WRONG_ANSWER", day),
		sub(5, 100, "C", 0, "COMPILATION_ERROR", day),
		sub(6, 200, "A", 0, "WRONG_ANSWER", day),
	}
	got := UnsolvedByContest(subs)
	if got[100] != 2 || got[200] != 1 || len(got) != 2 {
		t.Fatalf("got %v", got)
	}
}
