package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/assocops/memberbridge/internal/auth"
	"github.com/assocops/memberbridge/internal/services"
)

// SQLiteStore backs the member table, survey responses and the local auth
// provider. Every multi-row invariant is enforced by a single conflict-target
// statement, not by read-modify-write.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("nil db")
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func toNullString(s string) sql.NullString {
	if strings.TrimSpace(s) == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func ptrToNullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func ptrToNullBool(p *bool) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	v := int64(0)
	if *p {
		v = 1
	}
	return sql.NullInt64{Int64: v, Valid: true}
}

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		log.Printf("sqlite store: parse time %q: %v", s, err)
		return time.Time{}
	}
	return t
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || strings.TrimSpace(ns.String) == "" {
		return nil
	}
	t := parseTime(ns.String)
	if t.IsZero() {
		return nil
	}
	return &t
}

// --- Members ---

const memberColumns = `identity_key, account_ref, is_member, membership_level, crm_contact_id,
    first_name, last_name, us_zip_code, country, profession, company, created_at, updated_at`

func (s *SQLiteStore) scanMember(row *sql.Row) (*services.Member, error) {
	var m services.Member
	var accountRef, level, crmID, first, last, zip, country, profession, company sql.NullString
	var isMember int64
	var created, updated string
	err := row.Scan(&m.IdentityKey, &accountRef, &isMember, &level, &crmID,
		&first, &last, &zip, &country, &profession, &company, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan member: %w", err)
	}
	m.AccountRef = accountRef.String
	m.IsMember = isMember != 0
	m.MembershipLevel = level.String
	m.CRMContactID = crmID.String
	m.FirstName = first.String
	m.LastName = last.String
	m.USZipCode = zip.String
	m.Country = country.String
	m.Profession = profession.String
	m.Company = company.String
	m.CreatedAt = parseTime(created)
	m.UpdatedAt = parseTime(updated)
	return &m, nil
}

func (s *SQLiteStore) GetMemberByIdentityKey(ctx context.Context, key string) (*services.Member, error) {
	if strings.TrimSpace(key) == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM members WHERE identity_key = ?`, key)
	return s.scanMember(row)
}

// UpsertMember is one atomic INSERT ... ON CONFLICT. Unset patch fields come
// through as NULL and COALESCE away, so a partial update can never null out a
// stored field; account_ref coalesces the other way around and is therefore
// write-once.
func (s *SQLiteStore) UpsertMember(ctx context.Context, key string, patch services.MemberPatch) (*services.Member, error) {
	if strings.TrimSpace(key) == "" {
		return nil, services.NewInvalidError("missing_email")
	}
	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO members (`+memberColumns+`)
        VALUES (?1, ?2, COALESCE(?3, 0), ?4, ?5, ?6, ?7, ?8, ?9, ?10, ?11, ?12, ?12)
        ON CONFLICT(identity_key) DO UPDATE SET
            account_ref      = COALESCE(members.account_ref, ?2),
            is_member        = COALESCE(?3, members.is_member),
            membership_level = COALESCE(?4, members.membership_level),
            crm_contact_id   = COALESCE(?5, members.crm_contact_id),
            first_name       = COALESCE(?6, members.first_name),
            last_name        = COALESCE(?7, members.last_name),
            us_zip_code      = COALESCE(?8, members.us_zip_code),
            country          = COALESCE(?9, members.country),
            profession       = COALESCE(?10, members.profession),
            company          = COALESCE(?11, members.company),
            updated_at       = ?12`,
		key,
		ptrToNullString(patch.AccountRef),
		ptrToNullBool(patch.IsMember),
		ptrToNullString(patch.MembershipLevel),
		ptrToNullString(patch.CRMContactID),
		ptrToNullString(patch.FirstName),
		ptrToNullString(patch.LastName),
		ptrToNullString(patch.USZipCode),
		ptrToNullString(patch.Country),
		ptrToNullString(patch.Profession),
		ptrToNullString(patch.Company),
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert member %s: %w", key, err)
	}
	member, err := s.GetMemberByIdentityKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, fmt.Errorf("upsert member %s: row missing after write", key)
	}
	return member, nil
}

// --- Surveys & responses ---

func (s *SQLiteStore) AddSurvey(ctx context.Context, sv *services.Survey) error {
	if sv == nil || strings.TrimSpace(sv.ID) == "" {
		return services.NewInvalidError("survey id required")
	}
	created := sv.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO surveys (id, name, created_at) VALUES (?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		sv.ID, toNullString(sv.Name), formatTime(created))
	if err != nil {
		return fmt.Errorf("add survey %s: %w", sv.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetSurvey(ctx context.Context, id string) (*services.Survey, error) {
	if strings.TrimSpace(id) == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT id, name, created_at FROM surveys WHERE id = ?`, id)
	var sv services.Survey
	var name sql.NullString
	var created string
	if err := row.Scan(&sv.ID, &name, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get survey %s: %w", id, err)
	}
	sv.Name = name.String
	sv.CreatedAt = parseTime(created)
	return &sv, nil
}

const responseColumns = `id, survey_id, identity_key, account_ref, is_member, submitted_at, source, respondent_hash`

func scanResponse(scan func(dest ...any) error) (*services.SurveyResponse, error) {
	var r services.SurveyResponse
	var identityKey, accountRef, submitted, source, hash sql.NullString
	var isMember int64
	if err := scan(&r.ID, &r.SurveyID, &identityKey, &accountRef, &isMember, &submitted, &source, &hash); err != nil {
		return nil, err
	}
	r.IdentityKey = identityKey.String
	r.AccountRef = accountRef.String
	r.IsMember = isMember != 0
	r.SubmittedAt = parseNullTime(submitted)
	r.Source = source.String
	r.RespondentHash = hash.String
	return &r, nil
}

func (s *SQLiteStore) GetResponse(ctx context.Context, id string) (*services.SurveyResponse, error) {
	if strings.TrimSpace(id) == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+responseColumns+` FROM survey_responses WHERE id = ?`, id)
	r, err := scanResponse(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get response %s: %w", id, err)
	}
	return r, nil
}

func (s *SQLiteStore) InsertResponse(ctx context.Context, r *services.SurveyResponse) error {
	if r == nil || strings.TrimSpace(r.ID) == "" {
		return services.NewInvalidError("response id required")
	}
	var submitted sql.NullString
	if r.SubmittedAt != nil {
		submitted = sql.NullString{String: formatTime(*r.SubmittedAt), Valid: true}
	}
	isMember := 0
	if r.IsMember {
		isMember = 1
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO survey_responses (`+responseColumns+`, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SurveyID, toNullString(r.IdentityKey), toNullString(r.AccountRef),
		isMember, submitted, toNullString(r.Source), toNullString(r.RespondentHash),
		formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("insert response %s: %w", r.ID, err)
	}
	return nil
}

func (s *SQLiteStore) MarkSubmitted(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE survey_responses
        SET submitted_at = COALESCE(submitted_at, ?) WHERE id = ?`, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("mark submitted %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return services.NewNotFoundError("response not found")
	}
	return nil
}

// UpsertAnonymousResponse conflicts on the partial (identity_key, survey_id)
// index covering anonymous rows. The stored row keeps its original id, so the
// returned response is re-read rather than echoed.
func (s *SQLiteStore) UpsertAnonymousResponse(ctx context.Context, r *services.SurveyResponse) (*services.SurveyResponse, error) {
	if r == nil || strings.TrimSpace(r.IdentityKey) == "" || strings.TrimSpace(r.SurveyID) == "" {
		return nil, services.NewInvalidError("identity_key and survey_id required")
	}
	var submitted sql.NullString
	if r.SubmittedAt != nil {
		submitted = sql.NullString{String: formatTime(*r.SubmittedAt), Valid: true}
	}
	isMember := 0
	if r.IsMember {
		isMember = 1
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO survey_responses (`+responseColumns+`, created_at)
        VALUES (?, ?, ?, NULL, ?, ?, ?, ?, ?)
        ON CONFLICT(identity_key, survey_id) WHERE account_ref IS NULL DO UPDATE SET
            is_member    = excluded.is_member,
            submitted_at = excluded.submitted_at,
            source       = excluded.source`,
		r.ID, r.SurveyID, r.IdentityKey,
		isMember, submitted, toNullString(r.Source), toNullString(r.RespondentHash),
		formatTime(time.Now()))
	if err != nil {
		return nil, fmt.Errorf("upsert anonymous response %s/%s: %w", r.IdentityKey, r.SurveyID, err)
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+responseColumns+` FROM survey_responses
        WHERE identity_key = ? AND survey_id = ? AND account_ref IS NULL`, r.IdentityKey, r.SurveyID)
	stored, err := scanResponse(row.Scan)
	if err != nil {
		return nil, fmt.Errorf("reread anonymous response %s/%s: %w", r.IdentityKey, r.SurveyID, err)
	}
	return stored, nil
}

func (s *SQLiteStore) ListResponsesBySurvey(ctx context.Context, surveyID string) ([]*services.SurveyResponse, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+responseColumns+` FROM survey_responses
        WHERE survey_id = ? ORDER BY created_at ASC, id ASC`, surveyID)
	if err != nil {
		return nil, fmt.Errorf("list responses for %s: %w", surveyID, err)
	}
	defer func() { _ = rows.Close() }()
	out := []*services.SurveyResponse{}
	for rows.Next() {
		r, err := scanResponse(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("list responses for %s: %w", surveyID, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list responses for %s: %w", surveyID, err)
	}
	return out, nil
}

// --- Answers ---

func (s *SQLiteStore) UpsertAnswers(ctx context.Context, responseID string, answers []services.Answer) error {
	if strings.TrimSpace(responseID) == "" {
		return services.NewInvalidError("response id required")
	}
	for _, a := range answers {
		if strings.TrimSpace(a.QuestionID) == "" {
			continue
		}
		var num sql.NullFloat64
		if a.ValueNum != nil {
			num = sql.NullFloat64{Float64: *a.ValueNum, Valid: true}
		}
		var options sql.NullString
		if len(a.ValueOptions) > 0 {
			b, err := json.Marshal(a.ValueOptions)
			if err != nil {
				return fmt.Errorf("encode answer options %s/%s: %w", responseID, a.QuestionID, err)
			}
			options = sql.NullString{String: string(b), Valid: true}
		}
		_, err := s.db.ExecContext(ctx, `INSERT INTO answers (response_id, question_id, value_text, value_num, value_options)
            VALUES (?, ?, ?, ?, ?)
            ON CONFLICT(response_id, question_id) DO UPDATE SET
                value_text    = excluded.value_text,
                value_num     = excluded.value_num,
                value_options = excluded.value_options`,
			responseID, a.QuestionID, toNullString(a.ValueText), num, options)
		if err != nil {
			return fmt.Errorf("upsert answer %s/%s: %w", responseID, a.QuestionID, err)
		}
	}
	return nil
}

func (s *SQLiteStore) ListAnswers(ctx context.Context, responseID string) ([]services.Answer, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT question_id, value_text, value_num, value_options
        FROM answers WHERE response_id = ? ORDER BY question_id ASC`, responseID)
	if err != nil {
		return nil, fmt.Errorf("list answers for %s: %w", responseID, err)
	}
	defer func() { _ = rows.Close() }()
	out := []services.Answer{}
	for rows.Next() {
		var a services.Answer
		var text, options sql.NullString
		var num sql.NullFloat64
		if err := rows.Scan(&a.QuestionID, &text, &num, &options); err != nil {
			return nil, fmt.Errorf("list answers for %s: %w", responseID, err)
		}
		a.ValueText = text.String
		if num.Valid {
			v := num.Float64
			a.ValueNum = &v
		}
		if options.Valid && strings.TrimSpace(options.String) != "" {
			if err := json.Unmarshal([]byte(options.String), &a.ValueOptions); err != nil {
				log.Printf("sqlite store: decode answer options: %v", err)
			}
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list answers for %s: %w", responseID, err)
	}
	return out, nil
}

// --- Accounts & magic links (local auth provider) ---

func (s *SQLiteStore) FindAccountByEmail(ctx context.Context, email string) (*auth.Account, error) {
	if strings.TrimSpace(email) == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT id, email, created_at FROM accounts WHERE email = ?`, email)
	var a auth.Account
	var created string
	if err := row.Scan(&a.ID, &a.Email, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find account %s: %w", email, err)
	}
	a.CreatedAt = parseTime(created)
	return &a, nil
}

// InsertAccount is insert-or-ignore: the unique email index decides the
// winner under concurrent provisioning and the caller re-reads.
func (s *SQLiteStore) InsertAccount(ctx context.Context, a *auth.Account) error {
	if a == nil || strings.TrimSpace(a.Email) == "" {
		return services.NewInvalidError("account email required")
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO accounts (id, email, created_at) VALUES (?, ?, ?)
        ON CONFLICT(email) DO NOTHING`,
		a.ID, a.Email, formatTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert account %s: %w", a.Email, err)
	}
	return nil
}

func (s *SQLiteStore) InsertMagicLink(ctx context.Context, l *auth.MagicLink) error {
	if l == nil || strings.TrimSpace(l.ID) == "" {
		return services.NewInvalidError("magic link id required")
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO magic_links (id, email, token_hash, redirect_url, expires_at)
        VALUES (?, ?, ?, ?, ?)`,
		l.ID, l.Email, l.TokenHash, toNullString(l.RedirectURL), formatTime(l.ExpiresAt))
	if err != nil {
		return fmt.Errorf("insert magic link %s: %w", l.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetMagicLink(ctx context.Context, id string) (*auth.MagicLink, error) {
	if strings.TrimSpace(id) == "" {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT id, email, token_hash, redirect_url, expires_at, used_at
        FROM magic_links WHERE id = ?`, id)
	var l auth.MagicLink
	var redirect, used sql.NullString
	var expires string
	if err := row.Scan(&l.ID, &l.Email, &l.TokenHash, &redirect, &expires, &used); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get magic link %s: %w", id, err)
	}
	l.RedirectURL = redirect.String
	l.ExpiresAt = parseTime(expires)
	l.UsedAt = parseNullTime(used)
	return &l, nil
}

func (s *SQLiteStore) MarkMagicLinkUsed(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE magic_links SET used_at = ? WHERE id = ? AND used_at IS NULL`,
		formatTime(at), id)
	if err != nil {
		return fmt.Errorf("mark magic link used %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return services.NewUnauthorizedError("magic link already used")
	}
	return nil
}

var (
	_ services.MemberStore = (*SQLiteStore)(nil)
	_ services.SurveyStore = (*SQLiteStore)(nil)
	_ auth.Store           = (*SQLiteStore)(nil)
)
