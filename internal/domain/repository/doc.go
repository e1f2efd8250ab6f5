// Package repository define las entidades y los contratos de almacenamiento
// del ledger de asistencia firmado.
//
// Estas interfaces son independientes del almacenamiento subyacente
// (memoria, FileSystem, PostgreSQL, Redis).
//
// Las implementaciones concretas viven en internal/store/adapters/.
//
// Arquitectura:
//
//	┌─────────────────────────────────────────────────────┐
//	│        ledger / export / keys (servicios)           │
//	└─────────────────────────────────────────────────────┘
//	                        │
//	                        ▼
//	┌─────────────────────────────────────────────────────┐
//	│        domain/repository (interfaces)               │
//	│        UserRepository, KeyRepository                │
//	└─────────────────────────────────────────────────────┘
//	                        │
//	    ┌───────────┬───────┴──────┬──────────────┐
//	    ▼           ▼              ▼              ▼
//	┌────────┐ ┌────────┐   ┌────────────┐  ┌─────────┐
//	│ memory │ │   fs   │   │  postgres  │  │  redis  │
//	└────────┘ └────────┘   └────────────┘  └─────────┘
//
// Convenciones:
//   - Context siempre es el primer parámetro
//   - Los registros son append-only: no hay Update ni Delete
//   - Errores de dominio están en errors.go
package repository
