// Package ledger arma los payloads canónicos, firma registros de identidad y
// asistencia (fail-open) y expone los flujos de alta y asistencia.
package ledger

import (
	"strconv"
	"strings"

	"github.com/dropDatabas3/signroll/internal/domain/repository"
)

const (
	identityTag   = "USER"
	attendanceTag = "ATTEND"
	fieldSep      = "|"
)

// IdentityPayload: USER|userId|username|fullName|accountCreatedDate.
// Los campos no se escapan: el formato debe coincidir byte a byte con las
// firmas ya emitidas.
func IdentityPayload(u *repository.User) string {
	return strings.Join([]string{
		identityTag,
		u.UserID,
		u.Username,
		u.FullName,
		u.AccountCreatedDate,
	}, fieldSep)
}

// AttendancePayload: ATTEND|userId|username|loginTime|timestampEpochMillis.
func AttendancePayload(u *repository.User, rec repository.AttendanceRecord) string {
	return strings.Join([]string{
		attendanceTag,
		u.UserID,
		u.Username,
		rec.LoginTime,
		strconv.FormatInt(rec.Timestamp, 10),
	}, fieldSep)
}
