package cabi

/*
#include <stddef.h>
#include "plugin.h"

struct dittobd_field {
  const char *name;
  size_t offset;
};

#define DITTOBD_FIELD(f) { #f, offsetof (struct nbdkit_plugin, f) }

static const struct dittobd_field dittobd_fields[] = {
  DITTOBD_FIELD (_struct_size),
  DITTOBD_FIELD (_api_version),
  DITTOBD_FIELD (_thread_model),
  DITTOBD_FIELD (name),
  DITTOBD_FIELD (longname),
  DITTOBD_FIELD (version),
  DITTOBD_FIELD (description),
  DITTOBD_FIELD (load),
  DITTOBD_FIELD (unload),
  DITTOBD_FIELD (config),
  DITTOBD_FIELD (config_complete),
  DITTOBD_FIELD (config_help),
  DITTOBD_FIELD (open),
  DITTOBD_FIELD (close),
  DITTOBD_FIELD (get_size),
  DITTOBD_FIELD (can_write),
  DITTOBD_FIELD (can_flush),
  DITTOBD_FIELD (is_rotational),
  DITTOBD_FIELD (can_trim),
  DITTOBD_FIELD (_pread_v1),
  DITTOBD_FIELD (_pwrite_v1),
  DITTOBD_FIELD (_flush_v1),
  DITTOBD_FIELD (_trim_v1),
  DITTOBD_FIELD (_zero_v1),
  DITTOBD_FIELD (errno_is_preserved),
  DITTOBD_FIELD (dump_plugin),
  DITTOBD_FIELD (can_zero),
  DITTOBD_FIELD (can_fua),
  DITTOBD_FIELD (pread),
  DITTOBD_FIELD (pwrite),
  DITTOBD_FIELD (flush),
  DITTOBD_FIELD (trim),
  DITTOBD_FIELD (zero),
  DITTOBD_FIELD (magic_config_key),
  DITTOBD_FIELD (can_multi_conn),
  DITTOBD_FIELD (can_extents),
  DITTOBD_FIELD (extents),
  DITTOBD_FIELD (can_cache),
  DITTOBD_FIELD (cache),
  DITTOBD_FIELD (thread_model),
  DITTOBD_FIELD (can_fast_zero),
  DITTOBD_FIELD (preconnect),
  DITTOBD_FIELD (get_ready),
};

static size_t
dittobd_field_count (void)
{
  return sizeof dittobd_fields / sizeof dittobd_fields[0];
}

static const char *
dittobd_field_name (size_t i)
{
  return dittobd_fields[i].name;
}

static size_t
dittobd_field_offset (size_t i)
{
  return dittobd_fields[i].offset;
}

static size_t
dittobd_struct_size (void)
{
  return sizeof (struct nbdkit_plugin);
}
*/
import "C"

// Field is one member of struct nbdkit_plugin.
type Field struct {
	Name   string
	Offset uintptr
}

// Layout returns the members of struct nbdkit_plugin in declaration order,
// with offsets as computed by the C compiler.
func Layout() []Field {
	n := int(C.dittobd_field_count())
	fields := make([]Field, n)
	for i := range fields {
		fields[i] = Field{
			Name:   C.GoString(C.dittobd_field_name(C.size_t(i))),
			Offset: uintptr(C.dittobd_field_offset(C.size_t(i))),
		}
	}
	return fields
}

// StructSize returns sizeof(struct nbdkit_plugin), the value PluginInit
// stores in _struct_size.
func StructSize() uintptr {
	return uintptr(C.dittobd_struct_size())
}
