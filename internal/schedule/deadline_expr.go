package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/iliyamo/meetup-schedule/internal/repository"
)

// DefaultVotingWindow applies when a proposal carries no deadline
// expression.
const DefaultVotingWindow = 3 * time.Hour

// deadlineExpr matches "2일 3시간 15분" with any component omitted.  The
// short English units (2d 3h 15m) are accepted as well.
var deadlineExpr = regexp.MustCompile(`^(?:(\d+)\s*(?:일|d)\s*)?(?:(\d+)\s*(?:시간|h)\s*)?(?:(\d+)\s*(?:분|m)\s*)?$`)

// ParseDeadline turns a duration expression into an absolute deadline
// measured from base.  An empty expression yields base + DefaultVotingWindow.
func ParseDeadline(expr string, base time.Time) (time.Time, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return base.Add(DefaultVotingWindow), nil
	}
	m := deadlineExpr.FindStringSubmatch(expr)
	if m == nil {
		return time.Time{}, fmt.Errorf("%w: deadline %q is not of the form \"N일 N시간 N분\"", repository.ErrInvalidInput, expr)
	}
	units := [...]time.Duration{24 * time.Hour, time.Hour, time.Minute}
	var total time.Duration
	for i, unit := range units {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+1])
		if err != nil || n > 10000 {
			return time.Time{}, fmt.Errorf("%w: deadline component %q out of range", repository.ErrInvalidInput, m[i+1])
		}
		total += time.Duration(n) * unit
	}
	return base.Add(total), nil
}
