package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-itsm-approvals/internal/platform/errors"
)

func TestNumberingService_MonthScopedFormat(t *testing.T) {
	svc := NewNumberingService()
	svc.RegisterMonthly(KindApproval, func(_ context.Context, _, _ int) (int64, error) {
		return 0, nil
	})

	january := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	number, err := svc.Next(context.Background(), KindApproval, january)
	require.NoError(t, err)
	assert.Equal(t, "APP2501-0001", number)
}

func TestNumberingService_PrefixPerKind(t *testing.T) {
	svc := NewNumberingService()
	effective := time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC)

	monthly := map[DocumentKind]string{
		KindApproval:       "APP2511-0008",
		KindServiceRequest: "SR2511-0008",
		KindSpecification:  "SPEC2511-0008",
		KindIssue:          "ISS2511-0008",
		KindRelease:        "REL2511-0008",
		KindIncident:       "INC2511-0008",
	}
	for kind := range monthly {
		svc.RegisterMonthly(kind, func(_ context.Context, _, _ int) (int64, error) {
			return 7, nil
		})
	}
	for kind, want := range monthly {
		number, err := svc.Next(context.Background(), kind, effective)
		require.NoError(t, err)
		assert.Equal(t, want, number)
	}

	total := map[DocumentKind]string{
		KindPartner: "PTR0008",
		KindAsset:   "AST0008",
	}
	for kind := range total {
		svc.RegisterTotal(kind, func(_ context.Context) (int64, error) {
			return 7, nil
		})
	}
	for kind, want := range total {
		number, err := svc.Next(context.Background(), kind, effective)
		require.NoError(t, err)
		assert.Equal(t, want, number)
	}
}

func TestNumberingService_MonthRollover(t *testing.T) {
	svc := NewNumberingService()
	counts := map[[2]int]int64{
		{2025, 1}: 42,
		{2025, 2}: 0,
	}
	svc.RegisterMonthly(KindApproval, func(_ context.Context, year, month int) (int64, error) {
		return counts[[2]int{year, month}], nil
	})

	number, err := svc.Next(context.Background(), KindApproval, time.Date(2025, 1, 31, 23, 59, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "APP2501-0043", number)

	// A new month starts counting from 0001 again.
	number, err = svc.Next(context.Background(), KindApproval, time.Date(2025, 2, 1, 0, 1, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "APP2502-0001", number)
}

func TestNumberingService_SequentialMonotonic(t *testing.T) {
	svc := NewNumberingService()
	var count int64
	svc.RegisterMonthly(KindApproval, func(_ context.Context, _, _ int) (int64, error) {
		return count, nil
	})

	effective := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	want := []string{"APP2506-0001", "APP2506-0002", "APP2506-0003"}
	for _, expected := range want {
		number, err := svc.Next(context.Background(), KindApproval, effective)
		require.NoError(t, err)
		assert.Equal(t, expected, number)
		count++ // the caller persisted a row
	}
}

func TestNumberingService_WidthGrowsPastFourDigits(t *testing.T) {
	svc := NewNumberingService()
	svc.RegisterMonthly(KindApproval, func(_ context.Context, _, _ int) (int64, error) {
		return 9999, nil
	})

	number, err := svc.Next(context.Background(), KindApproval, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "APP2503-10000", number)
}

func TestNumberingService_UnknownKind(t *testing.T) {
	svc := NewNumberingService()
	_, err := svc.Next(context.Background(), DocumentKind("PURCHASE_ORDER"), time.Now())
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))
}

func TestNumberingService_UnregisteredSource(t *testing.T) {
	svc := NewNumberingService()

	_, err := svc.Next(context.Background(), KindApproval, time.Now())
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInternal, errors.CodeOf(err))

	_, err = svc.Next(context.Background(), KindPartner, time.Now())
	require.Error(t, err)
	assert.Equal(t, errors.ErrCodeInternal, errors.CodeOf(err))
}

func TestNumberingService_NextApprovalNumberUsesClock(t *testing.T) {
	svc := NewNumberingService()
	svc.now = func() time.Time { return time.Date(2024, 12, 24, 8, 0, 0, 0, time.UTC) }
	svc.RegisterMonthly(KindApproval, func(_ context.Context, year, month int) (int64, error) {
		assert.Equal(t, 2024, year)
		assert.Equal(t, 12, month)
		return 4, nil
	})

	number, err := svc.NextApprovalNumber(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "APP2412-0005", number)
}

// The counting source below is deliberately racy on its own: it reads the
// shared count, yields, then increments. Distinct results for every caller
// therefore depend on the service serializing count-then-format.
func TestNumberingService_ConcurrentCallersGetDistinctNumbers(t *testing.T) {
	svc := NewNumberingService()

	var count int64
	svc.RegisterMonthly(KindApproval, func(_ context.Context, _, _ int) (int64, error) {
		current := count
		time.Sleep(time.Millisecond)
		count = current + 1
		return current, nil
	})

	const callers = 32
	effective := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

	var (
		mu      sync.Mutex
		numbers = make(map[string]struct{}, callers)
		wg      sync.WaitGroup
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			number, err := svc.Next(context.Background(), KindApproval, effective)
			assert.NoError(t, err)
			mu.Lock()
			numbers[number] = struct{}{}
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, numbers, callers)
	for i := 1; i <= callers; i++ {
		assert.Contains(t, numbers, fmt.Sprintf("APP2507-%04d", i))
	}
}
