package pass

import (
	"context"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/distress-scanner/internal/backup"
	"github.com/sells-group/distress-scanner/internal/flags"
	"github.com/sells-group/distress-scanner/internal/model"
	"github.com/sells-group/distress-scanner/internal/store"
	"github.com/sells-group/distress-scanner/pkg/geocode"
	"github.com/sells-group/distress-scanner/pkg/usps"
)

// VacancyChecker is the slice of the carrier client the pass needs.
type VacancyChecker interface {
	CheckAddress(ctx context.Context, street, city, state, zipCode string) (*usps.Result, error)
	Account() int
}

// CityZipResolver resolves a missing city/ZIP for a situs street.
type CityZipResolver interface {
	ResolveCityZip(ctx context.Context, street, county, state string) (*geocode.CityZip, error)
}

// VacancyPass is Pass 2: carrier-vacancy enrichment of the top composite
// leads. One worker per credential account consuming a shared queue; the
// client owns the mandatory inter-call jitter. Consecutive errors pause a
// worker at 10 and abort the pass at 20.
type VacancyPass struct {
	Dial      Dialer
	Checkers  []VacancyChecker
	Resolver  CityZipResolver
	Selection store.VacancySelection

	FlushEvery int
	LockPath   string
	SpillPath  string
}

// resolvedParcel is a parcel with its address fields ready for the API.
type resolvedParcel struct {
	model.Parcel
	Street string
	City   string
	State  string
	Zip    string
}

// Run executes the vacancy sweep: pre-resolve addresses, fan out one worker
// per account, persist in chunks with the local spill as the fallback.
func (p *VacancyPass) Run(ctx context.Context) (Summary, error) {
	if len(p.Checkers) == 0 {
		return Summary{}, eris.New("vacancy: no credential accounts configured")
	}

	if p.LockPath != "" {
		release, err := acquireLock(p.LockPath)
		if err != nil {
			return Summary{}, err
		}
		defer release()
	}

	sel, closeSel, err := p.Dial(ctx)
	if err != nil {
		return Summary{}, err
	}
	parcels, err := sel.ParcelsNeedingVacancy(ctx, p.Selection)
	closeSel()
	if err != nil {
		return Summary{}, err
	}

	zap.L().Info("pass 2 selection",
		zap.String("county", p.Selection.County),
		zap.Int("parcels", len(parcels)),
		zap.Int("accounts", len(p.Checkers)))
	if len(parcels) == 0 {
		return Summary{}, nil
	}

	resolved, skipped := p.resolveAddresses(ctx, parcels)
	zap.L().Info("addresses resolved",
		zap.Int("resolved", len(resolved)), zap.Int("skipped", skipped))

	var spill *backup.Spill
	if p.SpillPath != "" {
		if sp, err := backup.Open(p.SpillPath); err != nil {
			zap.L().Warn("spill store unavailable", zap.Error(err))
		} else {
			spill = sp
			defer spill.Close() //nolint:errcheck
		}
	}

	buf := newBuffer(p.FlushEvery, func(ctx context.Context, batch []model.VacancyUpdate) (int, error) {
		st, closeFn, err := p.Dial(ctx)
		if err != nil {
			return 0, p.spillBatch(ctx, spill, batch, err)
		}
		defer closeFn()
		n, err := st.BatchUpdateVacancyResults(ctx, batch)
		if err != nil {
			return 0, p.spillBatch(ctx, spill, batch, err)
		}
		return n, nil
	})

	work := make(chan resolvedParcel)
	go func() {
		defer close(work)
		for _, rp := range resolved {
			select {
			case work <- rp:
			case <-ctx.Done():
				return
			}
		}
	}()

	runCtx, abort := context.WithCancel(ctx)
	defer abort()

	var mu sync.Mutex
	summary := Summary{Skipped: skipped}

	var wg sync.WaitGroup
	for _, checker := range p.Checkers {
		checker := checker
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.worker(runCtx, abort, checker, work, buf, &mu, &summary)
		}()
	}
	wg.Wait()

	buf.flush(ctx)
	summary.Flushed = buf.flushedCount()

	// Whatever could not reach the primary store after the final flush goes
	// to the spill so quota already spent is never re-spent.
	if leftover := buf.unflushed(); len(leftover) > 0 && spill != nil {
		if err := backup.Save(ctx, spill, leftover); err != nil {
			zap.L().Error("spill save failed", zap.Int("rows", len(leftover)), zap.Error(err))
		}
	}

	zap.L().Info("pass 2 complete",
		zap.Int("checked", summary.Scanned),
		zap.Int("vacant", summary.Flagged),
		zap.Int("errors", summary.Errors),
		zap.Int("skipped", summary.Skipped),
		zap.Int("flushed", summary.Flushed))
	if runCtx.Err() != nil && ctx.Err() == nil {
		return summary, eris.New("vacancy: pass aborted by a worker")
	}
	return summary, nil
}

func (p *VacancyPass) worker(ctx context.Context, abort context.CancelFunc,
	checker VacancyChecker, work <-chan resolvedParcel,
	buf *buffer[model.VacancyUpdate], mu *sync.Mutex, summary *Summary) {

	consecutive := 0
	for {
		select {
		case <-ctx.Done():
			return
		case rp, ok := <-work:
			if !ok {
				return
			}

			result, err := checker.CheckAddress(ctx, rp.Street, rp.City, rp.State, rp.Zip)
			if err != nil {
				// Token failure is operator-actionable: fail the pass.
				zap.L().Error("vacancy auth failed",
					zap.Int("account", checker.Account()), zap.Error(err))
				abort()
				return
			}

			update := p.toUpdate(rp, result, checker.Account())
			buf.add(ctx, update)
			p.auditCheck(ctx, rp.Parcel, update, result.RawResponse)

			mu.Lock()
			summary.Scanned++
			if update.Error != "" {
				summary.Errors++
			} else if update.Vacant != nil && *update.Vacant {
				summary.Flagged++
			}
			mu.Unlock()

			if update.Error != "" {
				consecutive++
			} else {
				consecutive = 0
			}
			switch {
			case consecutive >= 20:
				zap.L().Error("vacancy worker aborting",
					zap.Int("account", checker.Account()), zap.Int("consecutive", consecutive))
				abort()
				return
			case consecutive == 10:
				zap.L().Warn("vacancy worker pausing after consecutive errors",
					zap.Int("account", checker.Account()))
				select {
				case <-ctx.Done():
					return
				case <-time.After(5 * time.Minute):
				}
			}
		}
	}
}

// auditCheck appends the probe to the shared audit table. Best-effort all
// the way down: a failed dial or write is logged and never blocks the
// parcel update.
func (p *VacancyPass) auditCheck(ctx context.Context, parcel model.Parcel, update model.VacancyUpdate, raw []byte) {
	st, closeFn, err := p.Dial(ctx)
	if err != nil {
		zap.L().Debug("vacancy audit dial failed", zap.Error(err))
		return
	}
	defer closeFn()
	st.SaveVacancyAudit(ctx, parcel, update, raw)
}

// toUpdate converts a carrier result into the persistence band, evaluating
// the vacancy flag.
func (p *VacancyPass) toUpdate(rp resolvedParcel, r *usps.Result, account int) model.VacancyUpdate {
	flag, fired := flags.USPSVacancy(&model.VacancyEvidence{
		Vacant:          r.Vacant,
		DPVConfirmed:    r.DPVConfirmed,
		AddressMismatch: r.AddressMismatch,
		Address:         r.USPSAddress,
		City:            r.USPSCity,
		Zip:             r.USPSZip,
		CarrierRoute:    r.CarrierRoute,
	})

	update := model.VacancyUpdate{
		ParcelID:        rp.ParcelID,
		County:          rp.County,
		StateCode:       rp.StateCode,
		Vacant:          r.Vacant,
		DPVConfirmed:    r.DPVConfirmed,
		Address:         r.USPSAddress,
		City:            r.USPSCity,
		Zip:             r.USPSZip,
		Zip4:            r.USPSZip4,
		Business:        r.Business,
		CarrierRoute:    r.CarrierRoute,
		AddressMismatch: r.AddressMismatch,
		Error:           r.Err,
		FlagVacancy:     fired,
		Account:         account,
	}
	if fired {
		update.VacancyConfidence = &flag.Confidence
	}
	return update
}

// resolveAddresses parses situs strings and fills missing city/ZIP through
// the geocoder, then the same-state mailing address. Single-threaded: the
// geocoder's rate policy is strict and the sweep is short.
func (p *VacancyPass) resolveAddresses(ctx context.Context, parcels []model.Parcel) ([]resolvedParcel, int) {
	var resolved []resolvedParcel
	skipped := 0

	for _, parcel := range parcels {
		if ctx.Err() != nil {
			break
		}
		if strings.TrimSpace(parcel.SitusAddress) == "" {
			skipped++
			continue
		}

		split := usps.SplitSitus(parcel.SitusAddress, "", parcel.StateCode)
		if split.Street == "" {
			skipped++
			continue
		}
		state := split.State
		if state == "" {
			state = parcel.StateCode
		}
		city, zip := split.City, split.ZipCode

		if city == "" && zip == "" && p.Resolver != nil {
			if geo, err := p.Resolver.ResolveCityZip(ctx, split.Street, parcel.County, state); err == nil && geo.Matched {
				city, zip = geo.City, geo.Zip
			} else if err != nil {
				zap.L().Debug("city/zip resolve failed",
					zap.String("parcel_id", parcel.ParcelID), zap.Error(err))
			}
		}

		// Mailing fallback only when the mailing address is in-state:
		// out-of-state investor mail says nothing about the situs city.
		if city == "" && zip == "" {
			if strings.EqualFold(strings.TrimSpace(parcel.MailingState), state) {
				city = strings.TrimSpace(parcel.MailingCity)
				zip = strings.TrimSpace(parcel.MailingZip)
				if len(zip) > 5 {
					zip = zip[:5]
				}
			}
		}

		if city == "" && zip == "" {
			skipped++
			continue
		}

		resolved = append(resolved, resolvedParcel{
			Parcel: parcel, Street: split.Street, City: city, State: state, Zip: zip,
		})
	}
	return resolved, skipped
}

func (p *VacancyPass) spillBatch(ctx context.Context, spill *backup.Spill, batch []model.VacancyUpdate, cause error) error {
	if spill != nil {
		if err := backup.Save(ctx, spill, batch); err == nil {
			zap.L().Warn("batch spilled to local store",
				zap.Int("rows", len(batch)), zap.Error(cause))
		}
	}
	return cause
}

// acquireLock prevents concurrent runs from burning double quota.
func acquireLock(path string) (func(), error) {
	if data, err := os.ReadFile(path); err == nil {
		if pid, err := strconv.Atoi(strings.TrimSpace(string(data))); err == nil {
			if proc, err := os.FindProcess(pid); err == nil && proc.Signal(syscall.Signal(0)) == nil {
				return nil, eris.Errorf("vacancy: another run holds %s (pid %d)", path, pid)
			}
		}
		_ = os.Remove(path)
	}

	if err := os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644); err != nil {
		return nil, eris.Wrap(err, "vacancy: write lock")
	}
	return func() { _ = os.Remove(path) }, nil
}
