package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"sync"
	"time"

	"offlinesync/internal/config"
	"offlinesync/internal/domain"
	"offlinesync/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const (
	cacheRefreshInterval = time.Hour
	cacheWarmUpTimeout   = 30 * time.Second
	timestampLayout      = "2006-01-02 15:04:05"
)

var errRowNotFound = errors.New("sheet row not found")

// SheetsRemote mirrors synced keys into a spreadsheet, one row per key:
// key, type, payload, updated at, action id.
type SheetsRemote struct {
	service       *sheets.Service
	spreadsheetID string
	sheet         string
	logger        *zerolog.Logger

	cacheMu  sync.RWMutex
	rowCache map[string]int
}

// NewSheetsRemote authenticates with the service account in cfg.CredentialsFile.
func NewSheetsRemote(ctx context.Context, cfg config.GoogleConfig, logger *zerolog.Logger) (*SheetsRemote, error) {
	credentialsJSON, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	jwt, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(jwt.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %w", err)
	}
	return newSheetsRemote(srv, cfg.SpreadsheetID, cfg.SheetName, logger), nil
}

func newSheetsRemote(srv *sheets.Service, spreadsheetID, sheet string, logger *zerolog.Logger) *SheetsRemote {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &SheetsRemote{
		service:       srv,
		spreadsheetID: spreadsheetID,
		sheet:         sheet,
		logger:        logger,
		rowCache:      make(map[string]int),
	}
}

// Start warms the row cache and refreshes it hourly until ctx ends.
func (s *SheetsRemote) Start(ctx context.Context) {
	go func() {
		s.refresh(ctx)
		ticker := time.NewTicker(cacheRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.refresh(ctx)
			}
		}
	}()
}

func (s *SheetsRemote) refresh(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, cacheWarmUpTimeout)
	defer cancel()
	if err := s.WarmUpCache(ctx); err != nil {
		s.logger.Warn().Err(err).Str("sheet", s.sheet).Msg("Failed to warm up sheet row cache")
	}
}

// TestConnection reads the first cell of the sheet.
func (s *SheetsRemote) TestConnection(ctx context.Context) error {
	_, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.sheet+"!A1").Context(ctx).Do()
	if err != nil {
		return classify("test connection", err)
	}
	return nil
}

// Sync upserts the row for an update and blanks it for a delete.
func (s *SheetsRemote) Sync(ctx context.Context, action models.PendingAction) error {
	op := "sheets sync " + action.Key
	if action.Key == "" {
		return domain.NewError(domain.KindValidation, op, errors.New("empty key"))
	}

	if action.Type == models.ActionDelete {
		return classify(op, s.deleteRow(ctx, action.Key))
	}
	return classify(op, s.upsertRow(ctx, action))
}

// WarmUpCache rebuilds the key to row index from column A.
func (s *SheetsRemote) WarmUpCache(ctx context.Context) error {
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.sheet+"!A:A").Context(ctx).Do()
	if err != nil {
		return classify("warm up cache", err)
	}

	cache := make(map[string]int, len(resp.Values))
	for i, row := range resp.Values {
		if key := cellString(row); key != "" {
			cache[key] = i + 1
		}
	}

	s.cacheMu.Lock()
	s.rowCache = cache
	s.cacheMu.Unlock()
	return nil
}

func (s *SheetsRemote) upsertRow(ctx context.Context, action models.PendingAction) error {
	rowIdx, err := s.findRow(ctx, action.Key)
	if errors.Is(err, errRowNotFound) {
		return s.appendRow(ctx, action)
	}
	if err != nil {
		return err
	}

	rangeData := fmt.Sprintf("%s!A%d:E%d", s.sheet, rowIdx, rowIdx)
	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, rangeData, &sheets.ValueRange{
		Values: [][]interface{}{rowValues(action)},
	}).ValueInputOption("RAW").Context(ctx).Do()
	return err
}

func (s *SheetsRemote) appendRow(ctx context.Context, action models.PendingAction) error {
	resp, err := s.service.Spreadsheets.Values.Append(s.spreadsheetID, s.sheet+"!A:A", &sheets.ValueRange{
		Values: [][]interface{}{rowValues(action)},
	}).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return err
	}

	if resp.Updates != nil {
		if row, ok := firstRow(resp.Updates.UpdatedRange); ok {
			s.setCachedRow(action.Key, row)
		}
	}
	return nil
}

func (s *SheetsRemote) deleteRow(ctx context.Context, key string) error {
	rowIdx, err := s.findRow(ctx, key)
	if errors.Is(err, errRowNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	rangeData := fmt.Sprintf("%s!A%d:E%d", s.sheet, rowIdx, rowIdx)
	_, err = s.service.Spreadsheets.Values.Clear(s.spreadsheetID, rangeData, &sheets.ClearValuesRequest{}).
		Context(ctx).
		Do()
	if err == nil {
		s.deleteCachedRow(key)
	}
	return err
}

// findRow returns the 1-based row holding key.
func (s *SheetsRemote) findRow(ctx context.Context, key string) (int, error) {
	if row, ok := s.getCachedRow(key); ok {
		return row, nil
	}

	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.sheet+"!A:A").Context(ctx).Do()
	if err != nil {
		return 0, err
	}
	for i, row := range resp.Values {
		if cellString(row) == key {
			s.setCachedRow(key, i+1)
			return i + 1, nil
		}
	}
	return 0, errRowNotFound
}

func (s *SheetsRemote) getCachedRow(key string) (int, bool) {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	row, ok := s.rowCache[key]
	return row, ok
}

func (s *SheetsRemote) setCachedRow(key string, row int) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	s.rowCache[key] = row
}

func (s *SheetsRemote) deleteCachedRow(key string) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	delete(s.rowCache, key)
}

func rowValues(action models.PendingAction) []interface{} {
	return []interface{}{
		action.Key,
		action.Type,
		string(action.Payload),
		action.CreatedAt().UTC().Format(timestampLayout),
		action.ID,
	}
}

func cellString(row []interface{}) string {
	if len(row) == 0 {
		return ""
	}
	switch v := row[0].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

var rangeRowRe = regexp.MustCompile(`![A-Z]+(\d+)`)

// firstRow extracts the starting row from an A1 range such as "Sync!A10:E10".
func firstRow(a1 string) (int, bool) {
	m := rangeRowRe.FindStringSubmatch(a1)
	if m == nil {
		return 0, false
	}
	row, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return row, true
}

// classify attaches a domain kind to Sheets API errors.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		var kind domain.Kind
		switch {
		case apiErr.Code == http.StatusBadRequest, apiErr.Code == http.StatusNotFound:
			kind = domain.KindValidation
		case apiErr.Code == http.StatusUnauthorized:
			kind = domain.KindAuth
		case apiErr.Code == http.StatusForbidden:
			kind = domain.KindPermission
		case apiErr.Code == http.StatusTooManyRequests, apiErr.Code >= 500:
			kind = domain.KindServer
		}
		return domain.NewError(kind, op, err)
	}

	kind := domain.KindOf(err)
	if kind == domain.KindUnknown {
		kind = domain.KindNetwork
	}
	return domain.NewError(kind, op, err)
}
