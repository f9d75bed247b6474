package types

// VectorOID is the OID this server assigns to the VECTOR logical type. It
// has no stable upstream PostgreSQL assignment (pgvector extensions pick
// their own at install time), so the server mints one from the reserved
// range above the highest built-in OID. The value is not announced to
// clients through ParameterStatus or any other message.
//
// Chosen arbitrarily but kept stable for the lifetime of a server process;
// every session shares the same value.
const VectorOID = 90000

// VectorTypeName is the pg_type.typname clients and catalog queries should
// see for VectorOID.
const VectorTypeName = "vector"

// MaxVectorDimension is the largest number of elements a VECTOR value may
// carry.
const MaxVectorDimension = 2048
