// Package api is the HTTP query surface: the filtered parcel read plus the
// per-parcel on-demand scan endpoints, delegating to the same clients and
// evaluators the batch passes use.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/distress-scanner/internal/model"
	"github.com/sells-group/distress-scanner/internal/scan"
	"github.com/sells-group/distress-scanner/internal/store"
	"github.com/sells-group/distress-scanner/pkg/geocode"
	"github.com/sells-group/distress-scanner/pkg/naip"
	"github.com/sells-group/distress-scanner/pkg/planetary"
	"github.com/sells-group/distress-scanner/pkg/planetlabs"
	"github.com/sells-group/distress-scanner/pkg/usps"
)

// Server wires the read endpoint and scan endpoints over shared clients.
type Server struct {
	Store     *store.Store
	Scanner   *scan.Scanner
	Enricher  *scan.Enricher
	Imagery   *naip.Client
	Archive   *planetary.Client
	Planet    *planetlabs.Client
	Vacancy   *usps.Checker
	Resolver  *geocode.Client
	Artifacts scan.ArtifactStore

	PlanetEnabled      bool
	PlanetCooldownDays int
	MapsBrowserKey     string
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/config", s.handleConfig)
	r.Get("/parcels", s.handleParcels)

	r.Route("/scan", func(r chi.Router) {
		r.Get("/free", s.handleScanFree)
		r.Get("/full", s.handleScanFull)
		r.Get("/enrich-satellite", s.handleEnrichSatellite)
		r.Get("/check-vacancy", s.handleCheckVacancy)
		r.Get("/baseline", s.handleBaseline)
		r.Get("/flood-lookup", s.handleFloodLookup)
		r.Get("/high-res-search", s.handleHighResSearch)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "distress-scanner",
	})
}

// handleConfig serves browser-safe config only — server keys never leave
// this process.
func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"maps_browser_key": s.MapsBrowserKey,
		"planet_enabled":   s.PlanetEnabled,
	})
}

func (s *Server) handleParcels(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.QueryFilter{
		County:         q.Get("county"),
		StateCode:      q.Get("state"),
		PropertyClass:  q.Get("property_class"),
		Zip:            q.Get("zip"),
		FemaZone:       q.Get("fema_zone"),
		MinValue:       floatParam(q.Get("min_value")),
		MaxValue:       floatParam(q.Get("max_value")),
		MinSqft:        floatParam(q.Get("min_sqft")),
		MaxSqft:        floatParam(q.Get("max_sqft")),
		MinScore:       floatParam(q.Get("min_score")),
		FlagVeg:        boolParam(q.Get("flag_veg")),
		FlagFlood:      boolParam(q.Get("flag_flood")),
		FlagStructural: boolParam(q.Get("flag_structural")),
		FlagNeglect:    boolParam(q.Get("flag_neglect")),
		FlagVacancy:    boolParam(q.Get("flag_vacancy")),
		ScannedOnly:    q.Get("scanned_only") == "true",
		SortBy:         q.Get("sort_by"),
	}
	if v, err := strconv.Atoi(q.Get("limit")); err == nil {
		filter.Limit = v
	}
	if v, err := strconv.Atoi(q.Get("offset")); err == nil {
		filter.Offset = v
	}

	parcels, err := s.Store.QueryParcels(r.Context(), filter)
	if err != nil {
		zap.L().Error("parcel query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":   len(parcels),
		"parcels": parcels,
	})
}

func (s *Server) handleScanFree(w http.ResponseWriter, r *http.Request) {
	lat, lng, ok := latLng(w, r)
	if !ok {
		return
	}
	result := s.Scanner.Free(r.Context(), lat, lng)
	writeJSON(w, http.StatusOK, map[string]any{
		"lat":             lat,
		"lng":             lng,
		"aerial":          result.Aerial,
		"flood":           result.Flood,
		"flags":           result.Flags,
		"distress_score":  result.DistressScore,
		"sentinel_worthy": result.SentinelWorthy,
		"errors":          result.Errors,
	})
}

func (s *Server) handleScanFull(w http.ResponseWriter, r *http.Request) {
	lat, lng, ok := latLng(w, r)
	if !ok {
		return
	}
	months := intOr(r.URL.Query().Get("months"), 12)

	free := s.Scanner.Free(r.Context(), lat, lng)
	enrichment := s.Enricher.Enrich(r.Context(), lat, lng, months)

	response := map[string]any{
		"lat":             lat,
		"lng":             lng,
		"aerial":          free.Aerial,
		"flood":           free.Flood,
		"satellite":       enrichment.Trend,
		"chart_url":       enrichment.ChartURL,
		"flags":           free.Flags,
		"distress_score":  free.DistressScore,
		"sentinel_worthy": free.SentinelWorthy,
		"errors":          append(free.Errors, enrichment.Errors...),
	}

	parcelID := r.URL.Query().Get("parcel_id")
	county := r.URL.Query().Get("county")
	state := r.URL.Query().Get("state")

	if s.PlanetEnabled && s.Planet != nil && s.Planet.Available() {
		force := r.URL.Query().Get("force") == "true"
		if skip, reason := s.planetGuard(r, parcelID, county, force); skip {
			response["planet_skipped"] = reason
		} else if refinement, err := s.Planet.Refine(r.Context(), lat, lng, time.Now()); err == nil {
			response["planet"] = refinement
		} else {
			response["planet_error"] = err.Error()
		}
	}

	// With a full parcel identity, fired flags also land in the shared
	// signal tables for the motivation consumer.
	if parcelID != "" && county != "" && state != "" && len(free.Flags) > 0 {
		written, failed, err := s.Store.WriteSignals(r.Context(), county, state,
			map[string][]model.Flag{parcelID: free.Flags}, time.Now().UTC())
		if err != nil {
			zap.L().Warn("signal write failed", zap.String("parcel_id", parcelID), zap.Error(err))
			response["signals"] = map[string]any{"status": "error"}
		} else {
			response["signals"] = map[string]any{"written": written, "failed": failed}
		}
	}

	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleEnrichSatellite(w http.ResponseWriter, r *http.Request) {
	lat, lng, ok := latLng(w, r)
	if !ok {
		return
	}
	months := intOr(r.URL.Query().Get("months"), 12)
	enrichment := s.Enricher.Enrich(r.Context(), lat, lng, months)
	writeJSON(w, http.StatusOK, map[string]any{
		"lat":       lat,
		"lng":       lng,
		"satellite": enrichment.Trend,
		"chart_url": enrichment.ChartURL,
		"errors":    enrichment.Errors,
	})
}

func (s *Server) handleCheckVacancy(w http.ResponseWriter, r *http.Request) {
	if s.Vacancy == nil {
		writeError(w, http.StatusServiceUnavailable, "vacancy credentials not configured")
		return
	}

	q := r.URL.Query()
	street := q.Get("street")
	if street == "" {
		writeError(w, http.StatusBadRequest, "street is required")
		return
	}
	city, state, zip := q.Get("city"), q.Get("state"), q.Get("zip")

	if city == "" && zip == "" && s.Resolver != nil && q.Get("county") != "" && state != "" {
		if geo, err := s.Resolver.ResolveCityZip(r.Context(), street, q.Get("county"), state); err == nil && geo.Matched {
			city, zip = geo.City, geo.Zip
		}
	}
	if city == "" && zip == "" {
		writeError(w, http.StatusBadRequest, "city or zip is required")
		return
	}

	result, err := s.Vacancy.CheckAddress(r.Context(), street, city, state, zip)
	if err != nil {
		zap.L().Error("vacancy check failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "vacancy check failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleBaseline(w http.ResponseWriter, r *http.Request) {
	lat, lng, ok := latLng(w, r)
	if !ok {
		return
	}

	current := s.Scanner.Aerial.FastNDVI(r.Context(), lat, lng)
	response := map[string]any{
		"lat":     lat,
		"lng":     lng,
		"current": current,
	}

	// RGB tile artifact for the dashboard.
	if s.Imagery != nil && s.Artifacts != nil {
		if img, err := s.Imagery.ExportImage(r.Context(), naip.BBox(lat, lng, 50), 256, 256); err == nil {
			key := s.Artifacts.PointKey(lat, lng, "naip_rgb.png")
			if url, putErr := s.Artifacts.Put(key, img); putErr == nil {
				response["image_url"] = url
			}
		} else {
			zap.L().Debug("baseline image export failed", zap.Error(err))
		}
	}

	if s.Archive != nil {
		seq, err := s.Archive.Vintages(r.Context(), lat, lng, nil)
		if err != nil {
			response["history_error"] = err.Error()
		} else {
			response["history"] = seq.Collect(r.Context())
		}
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleFloodLookup(w http.ResponseWriter, r *http.Request) {
	lat, lng, ok := latLng(w, r)
	if !ok {
		return
	}
	zone, err := s.Scanner.Flood.QueryZone(r.Context(), lat, lng)
	if err != nil {
		zap.L().Error("flood lookup failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "flood lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, zone)
}

func (s *Server) handleHighResSearch(w http.ResponseWriter, r *http.Request) {
	if !s.PlanetEnabled || s.Planet == nil || !s.Planet.Available() {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "upgrade_required",
			"message": "high-res imagery requires an API key",
		})
		return
	}

	lat, lng, ok := latLng(w, r)
	if !ok {
		return
	}
	parcelID := r.URL.Query().Get("parcel_id")
	county := r.URL.Query().Get("county")
	force := r.URL.Query().Get("force") == "true"

	if skip, reason := s.planetGuard(r, parcelID, county, force); skip {
		writeJSON(w, http.StatusOK, map[string]string{"status": "skipped", "reason": reason})
		return
	}

	refinement, err := s.Planet.Refine(r.Context(), lat, lng, time.Now())
	if err != nil {
		zap.L().Error("high-res search failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, "high-res search failed")
		return
	}

	if parcelID != "" && county != "" {
		row := scan.StoreRefinement(s.Artifacts, lat, lng, parcelID, county, refinement)
		if err := s.Store.UpdateParcelPlanet(r.Context(), row); err != nil {
			zap.L().Warn("planet band persist failed", zap.Error(err))
		}
	}
	writeJSON(w, http.StatusOK, refinement)
}

// planetGuard enforces the 60-day re-run cooldown unless forced.
func (s *Server) planetGuard(r *http.Request, parcelID, county string, force bool) (bool, string) {
	if force || parcelID == "" || county == "" {
		return false, ""
	}
	last, err := s.Store.PlanetScanDate(r.Context(), parcelID, county)
	if err != nil {
		zap.L().Warn("planet guard lookup failed", zap.Error(err))
		return false, ""
	}
	cooldown := s.PlanetCooldownDays
	if cooldown <= 0 {
		cooldown = 60
	}
	if last != nil {
		days := int(time.Since(*last).Hours() / 24)
		if days < cooldown {
			return true, "scanned " + strconv.Itoa(days) + " days ago; pass force=true to override"
		}
	}
	return false, ""
}

func latLng(w http.ResponseWriter, r *http.Request) (float64, float64, bool) {
	lat, err1 := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lng, err2 := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
	if err1 != nil || err2 != nil || lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		writeError(w, http.StatusBadRequest, "valid lat and lng are required")
		return 0, 0, false
	}
	return lat, lng, true
}

func floatParam(v string) *float64 {
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return nil
	}
	return &f
}

func boolParam(v string) *bool {
	switch v {
	case "true":
		b := true
		return &b
	case "false":
		b := false
		return &b
	default:
		return nil
	}
}

func intOr(v string, fallback int) int {
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
