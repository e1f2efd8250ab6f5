package logger

import (
	"go.uber.org/zap"
)

// =================================================================================
// CAMPOS ESTÁNDAR - NEGOCIO
// =================================================================================

// UserID crea un campo para el ID de la identidad.
func UserID(v string) zap.Field {
	return zap.String("user_id", v)
}

// Username crea un campo para el username.
func Username(v string) zap.Field {
	return zap.String("username", v)
}

// RecordKind crea un campo para el tipo de registro firmado (identity|attendance|export).
func RecordKind(v string) zap.Field {
	return zap.String("record_kind", v)
}

// Fingerprint crea un campo con el thumbprint de la clave pública.
func Fingerprint(v string) zap.Field {
	return zap.String("key_fp", v)
}

// Slot crea un campo para el nombre del slot de clave.
func Slot(v string) zap.Field {
	return zap.String("slot", v)
}

// =================================================================================
// CAMPOS ESTÁNDAR - SISTEMA
// =================================================================================

// Component crea un campo para el componente/módulo.
func Component(v string) zap.Field {
	return zap.String("component", v)
}

// Op crea un campo para la operación actual.
func Op(v string) zap.Field {
	return zap.String("op", v)
}

// Driver crea un campo para el backend de almacenamiento.
func Driver(v string) zap.Field {
	return zap.String("driver", v)
}

// Err crea un campo para un error.
func Err(err error) zap.Field {
	return zap.Error(err)
}

// =================================================================================
// CAMPOS ESTÁNDAR - DATOS
// =================================================================================

// Count crea un campo para un conteo.
func Count(v int) zap.Field {
	return zap.Int("count", v)
}

// Path crea un campo para una ruta de archivo.
func Path(v string) zap.Field {
	return zap.String("path", v)
}

// String crea un campo string genérico.
func String(key, v string) zap.Field {
	return zap.String(key, v)
}
